package models

import (
	"fmt"
	"strings"
	"time"
)

type DeviceType string

const (
	DeviceTypeSonde     DeviceType = "sonde"
	DeviceTypeTideGauge DeviceType = "tide_gauge"
	DeviceTypeWaveGauge DeviceType = "wave_gauge"
	DeviceTypeOther     DeviceType = "other"
)

func ParseDeviceType(value string) (DeviceType, error) {
	switch DeviceType(strings.ToLower(strings.TrimSpace(value))) {
	case DeviceTypeSonde:
		return DeviceTypeSonde, nil
	case DeviceTypeTideGauge:
		return DeviceTypeTideGauge, nil
	case DeviceTypeWaveGauge:
		return DeviceTypeWaveGauge, nil
	case DeviceTypeOther, "":
		return DeviceTypeOther, nil
	default:
		return "", fmt.Errorf("unknown device type %q", value)
	}
}

type Sensor struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	Name       string     `gorm:"size:100;uniqueIndex;not null" json:"name"`
	DeviceType DeviceType `gorm:"type:varchar(20);not null;default:other" json:"device_type"`
	Latitude   float64    `gorm:"not null" json:"latitude"`
	Longitude  float64    `gorm:"not null" json:"longitude"`
	Timezone   string     `gorm:"size:64;not null;default:UTC" json:"timezone"`
	Active     bool       `gorm:"not null;default:true" json:"active"`
	Image      string     `gorm:"type:text" json:"image,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Sensor) TableName() string {
	return "sensors"
}

type SensorDto struct {
	Name       string     `json:"name"`
	DeviceType DeviceType `json:"device_type"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Timezone   string     `json:"timezone"`
	Active     bool       `json:"active"`
	HasImage   bool       `json:"has_image"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (s *Sensor) ToDto() SensorDto {
	return SensorDto{
		Name:       s.Name,
		DeviceType: s.DeviceType,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Timezone:   s.Timezone,
		Active:     s.Active,
		HasImage:   s.Image != "",
		UpdatedAt:  s.UpdatedAt,
	}
}
