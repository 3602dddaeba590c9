package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/decoder"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
	"tidewatch/internal/units"
)

// DefaultBroadcastTimeout bounds how long a request waits on the live
// broadcast once its reading is committed.
const DefaultBroadcastTimeout = 2 * time.Second

type UpdatePublisher interface {
	Publish(ctx context.Context, update *models.SensorUpdate) error
}

type IngestResult struct {
	Sensor          string         `json:"sensor"`
	Format          decoder.Format `json:"format"`
	Timestamp       time.Time      `json:"timestamp"`
	Stored          int            `json:"stored"`
	LocationUpdated bool           `json:"location_updated"`
}

// IngestService runs one uplink through decode, sensor check, a single
// storage transaction and the live broadcast.
type IngestService struct {
	db                   *gorm.DB
	decoders             *decoder.Registry
	sensorRepository     *repositories.SensorRepository
	parameterRepository  *repositories.ParameterRepository
	sensorDataRepository *repositories.SensorDataRepository
	publisher            UpdatePublisher
	broadcastTimeout     time.Duration
	logger               zerolog.Logger
}

func NewIngestService(
	db *gorm.DB,
	decoders *decoder.Registry,
	sensorRepository *repositories.SensorRepository,
	parameterRepository *repositories.ParameterRepository,
	sensorDataRepository *repositories.SensorDataRepository,
	publisher UpdatePublisher,
	logger zerolog.Logger,
) *IngestService {
	return &IngestService{
		db:                   db,
		decoders:             decoders,
		sensorRepository:     sensorRepository,
		parameterRepository:  parameterRepository,
		sensorDataRepository: sensorDataRepository,
		publisher:            publisher,
		broadcastTimeout:     DefaultBroadcastTimeout,
		logger:               logger,
	}
}

func (s *IngestService) WithBroadcastTimeout(timeout time.Duration) *IngestService {
	if timeout > 0 {
		s.broadcastTimeout = timeout
	}
	return s
}

func (s *IngestService) Ingest(ctx context.Context, raw []byte, hint decoder.Format) (*IngestResult, error) {
	reading, format, err := s.decoders.Decode(raw, hint)
	if err != nil {
		s.reject(err, format)
		return nil, err
	}
	metrics.MsgDecodedCounter.WithLabelValues(string(format)).Inc()

	for _, warning := range reading.Warnings {
		s.logger.Warn().
			Str("sensor", reading.SensorName).
			Str("format", string(format)).
			Msg(warning)
	}

	values := normalizeMeasurements(reading.Measurements, s.logger)
	hasLocation := reading.HasLocation()
	if hasLocation {
		if err := validateLocation(*reading.Latitude, *reading.Longitude); err != nil {
			s.logger.Warn().Err(err).
				Str("sensor", reading.SensorName).
				Float64("latitude", *reading.Latitude).
				Float64("longitude", *reading.Longitude).
				Msg("Ignoring out of range position")
			hasLocation = false
		}
	}
	if hasLocation {
		values[models.ParamLatitude] = *reading.Latitude
		values[models.ParamLongitude] = *reading.Longitude
	}

	result := &IngestResult{
		Sensor:          reading.SensorName,
		Format:          format,
		Timestamp:       reading.Timestamp.UTC(),
		LocationUpdated: hasLocation,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sensor, err := s.sensorRepository.WithTx(tx).FindByName(ctx, reading.SensorName)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &SensorRejectedError{Name: reading.SensorName}
			}
			return err
		}
		if !sensor.Active {
			return &SensorRejectedError{Name: reading.SensorName, Inactive: true}
		}

		stored, err := s.store(ctx, tx, sensor, result.Timestamp, values)
		if err != nil {
			return err
		}
		result.Stored = stored

		if hasLocation {
			if err := s.sensorRepository.WithTx(tx).UpdateLocation(ctx, sensor.ID, *reading.Latitude, *reading.Longitude); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSensorRejected) {
			s.reject(err, format)
			return nil, err
		}
		s.reject(err, format)
		s.logger.Error().Err(err).
			Str("sensor", reading.SensorName).
			Msg("Failed to store reading")
		return nil, &PersistError{Sensor: reading.SensorName, Err: err}
	}

	metrics.InsertCounter.Add(float64(result.Stored))

	s.broadcast(ctx, models.NewSensorUpdate(reading.SensorName, result.Timestamp, values))

	s.logger.Info().
		Str("sensor", result.Sensor).
		Str("format", string(format)).
		Int("stored", result.Stored).
		Time("timestamp", result.Timestamp).
		Msg("Reading stored")

	return result, nil
}

func (s *IngestService) store(ctx context.Context, tx *gorm.DB, sensor *models.Sensor, ts time.Time, values map[string]float64) (int, error) {
	parameters := s.parameterRepository.WithTx(tx)
	data := s.sensorDataRepository.WithTx(tx)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		parameter, err := parameters.Resolve(ctx, name, units.Infer(name))
		if err != nil {
			return 0, err
		}

		row := &models.SensorData{
			SensorID:    sensor.ID,
			ParameterID: parameter.ID,
			Timestamp:   ts,
			Value:       values[name],
		}
		if err := data.Create(ctx, row); err != nil {
			return 0, err
		}
	}

	return len(names), nil
}

// broadcast hands the update to the publisher without the request's
// cancellation and gives up waiting after broadcastTimeout. A publisher that
// ignores its context finishes in the background.
func (s *IngestService) broadcast(ctx context.Context, update *models.SensorUpdate) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.broadcastTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.publisher.Publish(ctx, update)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn().Err(err).
				Str("sensor", update.Sensor).
				Msg("Failed to broadcast sensor update")
		}
	case <-ctx.Done():
		metrics.BroadcastErrorCounter.WithLabelValues("timeout").Inc()
		s.logger.Warn().
			Str("sensor", update.Sensor).
			Dur("timeout", s.broadcastTimeout).
			Msg("Broadcast still pending, not waiting for it")
	}
}

func (s *IngestService) reject(err error, format decoder.Format) {
	reason := "persist"
	switch {
	case errors.Is(err, decoder.ErrEmptyPayload):
		reason = "empty"
	case errors.Is(err, decoder.ErrUnknownFormat):
		reason = "unknown_format"
	case errors.Is(err, decoder.ErrDecode):
		reason = "decode"
	case errors.Is(err, ErrSensorRejected):
		reason = "sensor"
	}
	metrics.MsgRejectedCounter.WithLabelValues(reason).Inc()

	s.logger.Debug().Err(err).
		Str("format", string(format)).
		Str("reason", reason).
		Msg("Uplink rejected")
}

// normalizeMeasurements lower-cases names. When two names collide the one
// already in canonical form wins, otherwise the first in sorted order.
func normalizeMeasurements(in map[string]float64, logger zerolog.Logger) map[string]float64 {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]float64, len(in)+2)
	for _, key := range keys {
		name := models.NormalizeName(key)
		if name == "" {
			continue
		}
		if _, exists := out[name]; exists && key != name {
			logger.Warn().Str("measurement", key).Str("canonical", name).Msg("Dropped duplicate measurement name")
			continue
		}
		out[name] = in[key]
	}
	return out
}
