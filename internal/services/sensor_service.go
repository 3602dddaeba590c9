package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"tidewatch/internal/auth"
	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/models"
)

type SensorInput struct {
	Name       string   `json:"name"`
	DeviceType string   `json:"device_type"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Timezone   string   `json:"timezone"`
	Image      string   `json:"image"`
}

type SensorPatch struct {
	DeviceType *string  `json:"device_type"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Timezone   *string  `json:"timezone"`
	Image      *string  `json:"image"`
}

// SensorService manages the sensor registry. Every change needs an
// authenticated principal.
type SensorService struct {
	sensorRepository    *repositories.SensorRepository
	parameterRepository *repositories.ParameterRepository
	logger              zerolog.Logger
}

func NewSensorService(sensorRepository *repositories.SensorRepository, parameterRepository *repositories.ParameterRepository, logger zerolog.Logger) *SensorService {
	return &SensorService{
		sensorRepository:    sensorRepository,
		parameterRepository: parameterRepository,
		logger:              logger,
	}
}

func (s *SensorService) Onboard(ctx context.Context, principal *auth.Principal, input SensorInput) (*models.Sensor, error) {
	if !principal.Valid() {
		return nil, ErrUnauthenticated
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	if len(name) > 100 {
		return nil, &ValidationError{Field: "name", Message: "must be at most 100 characters"}
	}

	deviceType, err := models.ParseDeviceType(input.DeviceType)
	if err != nil {
		return nil, &ValidationError{Field: "device_type", Message: err.Error()}
	}

	sensor := &models.Sensor{
		Name:       name,
		DeviceType: deviceType,
		Timezone:   "UTC",
		Active:     true,
		Image:      input.Image,
	}
	if input.Latitude != nil {
		sensor.Latitude = *input.Latitude
	}
	if input.Longitude != nil {
		sensor.Longitude = *input.Longitude
	}
	if input.Timezone != "" {
		sensor.Timezone = input.Timezone
	}
	if err := validateLocation(sensor.Latitude, sensor.Longitude); err != nil {
		return nil, err
	}
	if err := validateTimezone(sensor.Timezone); err != nil {
		return nil, err
	}

	if _, err := s.sensorRepository.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSensorExists, name)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.sensorRepository.Create(ctx, sensor); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrSensorExists, name)
		}
		return nil, fmt.Errorf("error saving sensor: %w", err)
	}

	s.logger.Info().
		Str("sensor", sensor.Name).
		Str("device_type", string(sensor.DeviceType)).
		Str("principal", principal.String()).
		Msg("Sensor onboarded")

	return sensor, nil
}

func (s *SensorService) Update(ctx context.Context, principal *auth.Principal, name string, patch SensorPatch) (*models.Sensor, error) {
	if !principal.Valid() {
		return nil, ErrUnauthenticated
	}

	sensor, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	latitude, longitude := sensor.Latitude, sensor.Longitude
	if patch.DeviceType != nil {
		deviceType, err := models.ParseDeviceType(*patch.DeviceType)
		if err != nil {
			return nil, &ValidationError{Field: "device_type", Message: err.Error()}
		}
		fields["device_type"] = deviceType
	}
	if patch.Latitude != nil {
		latitude = *patch.Latitude
		fields["latitude"] = latitude
	}
	if patch.Longitude != nil {
		longitude = *patch.Longitude
		fields["longitude"] = longitude
	}
	if err := validateLocation(latitude, longitude); err != nil {
		return nil, err
	}
	if patch.Timezone != nil {
		if err := validateTimezone(*patch.Timezone); err != nil {
			return nil, err
		}
		fields["timezone"] = *patch.Timezone
	}
	if patch.Image != nil {
		fields["image"] = *patch.Image
	}

	if err := s.sensorRepository.Update(ctx, sensor, fields); err != nil {
		return nil, fmt.Errorf("error updating sensor: %w", err)
	}

	s.logger.Info().
		Str("sensor", sensor.Name).
		Int("fields", len(fields)).
		Str("principal", principal.String()).
		Msg("Sensor updated")

	return s.Get(ctx, name)
}

func (s *SensorService) Get(ctx context.Context, name string) (*models.Sensor, error) {
	sensor, err := s.sensorRepository.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, name)
		}
		return nil, err
	}
	return sensor, nil
}

func (s *SensorService) List(ctx context.Context, activeOnly bool) ([]*models.Sensor, error) {
	return s.sensorRepository.FindAll(ctx, activeOnly)
}

// SetActive toggles ingestion for a sensor. Stored readings are kept.
func (s *SensorService) SetActive(ctx context.Context, principal *auth.Principal, name string, active bool) error {
	if !principal.Valid() {
		return ErrUnauthenticated
	}

	if err := s.sensorRepository.SetActive(ctx, name, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrSensorNotFound, name)
		}
		return err
	}

	s.logger.Info().
		Str("sensor", name).
		Bool("active", active).
		Str("principal", principal.String()).
		Msg("Sensor activation changed")

	return nil
}

// Delete removes a sensor together with all of its readings. It only runs
// when confirm is set.
func (s *SensorService) Delete(ctx context.Context, principal *auth.Principal, name string, confirm bool) (int64, error) {
	if !principal.Valid() {
		return 0, ErrUnauthenticated
	}
	if !confirm {
		return 0, ErrConfirmationRequired
	}

	removed, err := s.sensorRepository.Delete(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrSensorNotFound, name)
		}
		return 0, err
	}

	s.logger.Warn().
		Str("sensor", name).
		Int64("readings", removed).
		Str("principal", principal.String()).
		Msg("Sensor deleted")

	return removed, nil
}

func (s *SensorService) SweepParameters(ctx context.Context, principal *auth.Principal) (int64, error) {
	if !principal.Valid() {
		return 0, ErrUnauthenticated
	}

	removed, err := s.parameterRepository.SweepUnused(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int64("removed", removed).
		Str("principal", principal.String()).
		Msg("Unused parameters swept")

	return removed, nil
}

func validateLocation(latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 {
		return &ValidationError{Field: "latitude", Message: "must be between -90 and 90"}
	}
	if longitude < -180 || longitude > 180 {
		return &ValidationError{Field: "longitude", Message: "must be between -180 and 180"}
	}
	return nil
}

func validateTimezone(tz string) error {
	if tz == "" {
		return &ValidationError{Field: "timezone", Message: "must not be empty"}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return &ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", tz)}
	}
	return nil
}
