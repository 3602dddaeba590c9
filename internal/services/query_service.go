package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/models"
)

type SensorSummary struct {
	Sensor    models.SensorDto     `json:"sensor"`
	Latest    []models.Observation `json:"latest"`
	Health    []models.Observation `json:"health"`
	UpdatedAt *time.Time           `json:"updated_at,omitempty"`
}

// QueryService answers read-only questions about stored readings.
type QueryService struct {
	sensorService        *SensorService
	sensorDataRepository *repositories.SensorDataRepository
	logger               zerolog.Logger
}

func NewQueryService(sensorService *SensorService, sensorDataRepository *repositories.SensorDataRepository, logger zerolog.Logger) *QueryService {
	return &QueryService{
		sensorService:        sensorService,
		sensorDataRepository: sensorDataRepository,
		logger:               logger,
	}
}

func checkRange(start, end time.Time) error {
	if start.After(end) {
		return ErrInvalidRange
	}
	return nil
}

// Range returns readings of a sensor in [start, end]. Health parameters are
// only included on request.
func (s *QueryService) Range(ctx context.Context, name string, start, end time.Time, includeHealth bool) ([]models.Observation, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	filter := repositories.HealthExclude
	if includeHealth {
		filter = repositories.HealthAny
	}
	return s.sensorDataRepository.Range(ctx, sensor.ID, start, end, filter)
}

func (s *QueryService) Health(ctx context.Context, name string, start, end time.Time) ([]models.Observation, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.sensorDataRepository.Range(ctx, sensor.ID, start, end, repositories.HealthOnly)
}

func (s *QueryService) Latest(ctx context.Context, name string) ([]models.Observation, error) {
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.sensorDataRepository.MostRecent(ctx, sensor.ID)
}

func (s *QueryService) Parameters(ctx context.Context, name string) ([]models.Parameter, error) {
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.sensorDataRepository.DistinctParameters(ctx, sensor.ID)
}

// Summary splits the most recent values into environmental and health
// readings. Position values are already carried by the sensor itself.
func (s *QueryService) Summary(ctx context.Context, name string) (*SensorSummary, error) {
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	latest, err := s.sensorDataRepository.MostRecent(ctx, sensor.ID)
	if err != nil {
		return nil, err
	}

	summary := &SensorSummary{
		Sensor: sensor.ToDto(),
		Latest: []models.Observation{},
		Health: []models.Observation{},
	}
	for _, o := range latest {
		if summary.UpdatedAt == nil || o.Timestamp.After(*summary.UpdatedAt) {
			ts := o.Timestamp
			summary.UpdatedAt = &ts
		}
		switch {
		case models.IsHealthParam(o.Parameter):
			summary.Health = append(summary.Health, o)
		case models.IsPositionParam(o.Parameter):
		default:
			summary.Latest = append(summary.Latest, o)
		}
	}
	return summary, nil
}

// SensorsGeoJSON renders the registry as point features for the map.
func (s *QueryService) SensorsGeoJSON(ctx context.Context, activeOnly bool) ([]byte, error) {
	sensors, err := s.sensorService.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}

	fc := geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, sensor := range sensors {
		f := &geojson.Feature{ID: sensor.Name}
		f.Properties = make(map[string]interface{})
		f.Properties["name"] = sensor.Name
		f.Properties["device_type"] = string(sensor.DeviceType)
		f.Properties["timezone"] = sensor.Timezone
		f.Properties["active"] = sensor.Active

		f.Geometry = geom.NewPointFlat(geom.XY, []float64{sensor.Longitude, sensor.Latitude})
		fc.Features = append(fc.Features, f)
	}
	return fc.MarshalJSON()
}

// TrackGeoJSON returns the position history of a drifting sensor as a single
// LineString feature. With fewer than two fixes the geometry is a point or empty.
func (s *QueryService) TrackGeoJSON(ctx context.Context, name string, start, end time.Time) ([]byte, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	sensor, err := s.sensorService.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	points, err := s.sensorDataRepository.Track(ctx, sensor.ID, start, end)
	if err != nil {
		return nil, err
	}

	f := &geojson.Feature{ID: sensor.Name}
	f.Properties = map[string]interface{}{
		"name":   sensor.Name,
		"points": len(points),
	}

	switch len(points) {
	case 0:
		f.Geometry = geom.NewLineString(geom.XY)
	case 1:
		f.Geometry = geom.NewPointFlat(geom.XY, []float64{points[0].Longitude, points[0].Latitude})
		f.Properties["start"] = points[0].Timestamp
		f.Properties["end"] = points[0].Timestamp
	default:
		flat := make([]float64, 0, len(points)*2)
		for _, p := range points {
			flat = append(flat, p.Longitude, p.Latitude)
		}
		f.Geometry = geom.NewLineStringFlat(geom.XY, flat)
		f.Properties["start"] = points[0].Timestamp
		f.Properties["end"] = points[len(points)-1].Timestamp
	}

	return f.MarshalJSON()
}
