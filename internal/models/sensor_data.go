package models

import "time"

type SensorData struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	SensorID    uint       `gorm:"not null;index:idx_sensor_param_time,priority:1" json:"-"`
	ParameterID uint       `gorm:"not null;index:idx_sensor_param_time,priority:2" json:"-"`
	Timestamp   time.Time  `gorm:"not null;index:idx_sensor_param_time,priority:3" json:"timestamp"`
	Value       float64    `gorm:"not null" json:"value"`
	Sensor      *Sensor    `gorm:"foreignKey:SensorID;constraint:OnDelete:CASCADE" json:"-"`
	Parameter   *Parameter `gorm:"foreignKey:ParameterID" json:"-"`
}

func (SensorData) TableName() string {
	return "sensor_data"
}

// Observation is a SensorData row joined with its parameter.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Parameter string    `json:"parameter"`
	Unit      string    `json:"unit"`
	Value     float64   `json:"value"`
}

type TrackPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}
