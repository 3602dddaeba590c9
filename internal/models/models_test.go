package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthParamsCaseInsensitive(t *testing.T) {
	for _, name := range []string{"battery", "Battery", "RSSI", " snr "} {
		assert.True(t, IsHealthParam(name), name)
	}
	for _, name := range []string{"temperature", "latitude", "batt"} {
		assert.False(t, IsHealthParam(name), name)
	}
}

func TestNewSensorUpdateIsSortedAndFlagged(t *testing.T) {
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.FixedZone("CST", -6*3600))
	update := NewSensorUpdate("buoy-1", ts, map[string]float64{
		"temperature": 21.4,
		"battery":     3.7,
		"rssi":        -97,
	})

	assert.Equal(t, "2023-11-15T04:13:20Z", update.Timestamp)
	require.Len(t, update.Measurements, 3)
	assert.Equal(t, MeasurementUpdate{Name: "battery", Value: 3.7, IsHealth: true}, update.Measurements[0])
	assert.Equal(t, "rssi", update.Measurements[1].Name)
	assert.Equal(t, MeasurementUpdate{Name: "temperature", Value: 21.4}, update.Measurements[2])
}

func TestParseDeviceType(t *testing.T) {
	dt, err := ParseDeviceType("Tide_Gauge")
	require.NoError(t, err)
	assert.Equal(t, DeviceTypeTideGauge, dt)

	dt, err = ParseDeviceType("")
	require.NoError(t, err)
	assert.Equal(t, DeviceTypeOther, dt)

	_, err = ParseDeviceType("submarine")
	assert.Error(t, err)
}
