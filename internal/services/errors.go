package services

import (
	"errors"
	"fmt"
)

var (
	ErrSensorRejected       = errors.New("sensor rejected")
	ErrPersist              = errors.New("failed to store reading")
	ErrUnauthenticated      = errors.New("authentication required")
	ErrSensorExists         = errors.New("sensor already exists")
	ErrSensorNotFound       = errors.New("sensor not found")
	ErrConfirmationRequired = errors.New("deleting a sensor and its readings requires confirmation")
	ErrInvalidRange         = errors.New("start must not be after end")
)

// SensorRejectedError is returned for telemetry from a sensor that is not
// onboarded or has been deactivated.
type SensorRejectedError struct {
	Name     string
	Inactive bool
}

func (e *SensorRejectedError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("Device '%s' is deactivated.", e.Name)
	}
	return fmt.Sprintf("Device '%s' not onboarded.", e.Name)
}

func (e *SensorRejectedError) Is(target error) bool {
	return target == ErrSensorRejected
}

type PersistError struct {
	Sensor string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to store reading for %s: %v", e.Sensor, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
