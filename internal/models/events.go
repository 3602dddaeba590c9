package models

import (
	"sort"
	"time"
)

const (
	EventSensorUpdate         = "sensor_update"
	EventSensorRegistryUpdate = "sensor_registry_update"
)

type MeasurementUpdate struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	IsHealth bool    `json:"is_health"`
}

// SensorUpdate is pushed to live clients once a reading has been committed.
type SensorUpdate struct {
	Sensor       string              `json:"sensor"`
	Timestamp    string              `json:"timestamp"`
	Measurements []MeasurementUpdate `json:"measurements"`
}

func NewSensorUpdate(sensor string, ts time.Time, values map[string]float64) *SensorUpdate {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	update := &SensorUpdate{
		Sensor:       sensor,
		Timestamp:    ts.UTC().Format(time.RFC3339Nano),
		Measurements: make([]MeasurementUpdate, 0, len(names)),
	}
	for _, name := range names {
		update.Measurements = append(update.Measurements, MeasurementUpdate{
			Name:     name,
			Value:    values[name],
			IsHealth: IsHealthParam(name),
		})
	}
	return update
}

type SensorRegistryEvent struct {
	Operation string    `json:"operation"`
	Sensor    string    `json:"sensor"`
	Active    *bool     `json:"active,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
