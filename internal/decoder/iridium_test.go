package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(tag byte, value float32) []byte {
	buf := make([]byte, 5)
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(value))
	return buf
}

func frame(records ...[]byte) []byte {
	out := []byte{0x01, 0x00}
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}

func iridiumEnvelope(data string) string {
	return fmt.Sprintf(`{
		"identity": {"hardware": {"imei": "300434063839690"}},
		"receivedAt": {"year": 2024, "month": 3, "day": 9, "hour": 17, "minute": 4, "second": 55},
		"location": {"lat": 29.31, "lon": -94.79},
		"data": %q
	}`, data)
}

func TestParseIridiumFrame(t *testing.T) {
	values, warnings := ParseIridiumFrame(frame(record(1, 23.5), record(4, 26.1)))

	assert.Equal(t, map[string]float64{"dissolved_oxygen": 23.5, "temperature": 26.1}, values)
	assert.Empty(t, warnings)
}

func TestParseIridiumFrameSkipsUnknownAndPartial(t *testing.T) {
	raw := frame(record(9, 1), record(3, 7.25), record(2, 512))
	raw = append(raw, 0x05, 0x00, 0x00)

	values, warnings := ParseIridiumFrame(raw)

	assert.Equal(t, map[string]float64{"ph": 7.25, "conductivity": 512}, values)
	assert.Len(t, warnings, 1)
}

func TestParseIridiumFrameShort(t *testing.T) {
	for _, raw := range [][]byte{nil, {0x01}, {0x01, 0x00, 0x04, 0x00, 0x00, 0x00}} {
		values, _ := ParseIridiumFrame(raw)
		assert.Empty(t, values)
	}
}

func TestParseIridiumFrameDropsNonFinite(t *testing.T) {
	values, warnings := ParseIridiumFrame(frame(record(4, float32(math.NaN())), record(5, 81)))

	assert.Equal(t, map[string]float64{"humidity": 81}, values)
	assert.Len(t, warnings, 1)
}

func TestDecodeIridium(t *testing.T) {
	data := base64.StdEncoding.EncodeToString(frame(record(1, 23.5), record(4, 26.1)))

	reading, err := DecodeIridium([]byte(iridiumEnvelope(data)))
	require.NoError(t, err)

	assert.Equal(t, "iridium_300434063839690", reading.SensorName)
	assert.True(t, reading.Timestamp.Equal(time.Date(2024, 3, 9, 17, 4, 55, 0, time.UTC)))
	require.True(t, reading.HasLocation())
	assert.Equal(t, 29.31, *reading.Latitude)
	assert.Equal(t, -94.79, *reading.Longitude)
	assert.Equal(t, map[string]float64{"dissolved_oxygen": 23.5, "temperature": 26.1}, reading.Measurements)
}

func TestDecodeIridiumBadBinaryKeepsIdentity(t *testing.T) {
	reading, err := DecodeIridium([]byte(iridiumEnvelope("%%% not base64 %%%")))
	require.NoError(t, err)

	assert.Equal(t, "iridium_300434063839690", reading.SensorName)
	assert.Empty(t, reading.Measurements)
	assert.NotEmpty(t, reading.Warnings)
	assert.True(t, reading.HasLocation())
}

func TestDecodeIridiumDefaultsTimestampToNow(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	raw := `{"identity": {"hardware": {"imei": 300434063839690}}, "data": ""}`
	reading, err := DecodeIridium([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "iridium_300434063839690", reading.SensorName)
	assert.True(t, reading.Timestamp.Equal(fixed))
	assert.False(t, reading.HasLocation())
	assert.Empty(t, reading.Measurements)
}

func TestDecodeIridiumEmptyReceivedAtUsesNow(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	raw := `{"identity": {"hardware": {"imei": "300434063839690"}}, "receivedAt": {}, "data": ""}`
	reading, err := DecodeIridium([]byte(raw))
	require.NoError(t, err)
	assert.True(t, reading.Timestamp.Equal(fixed))
}

func TestDecodeIridiumFailures(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		stage string
	}{
		{"no hardware", `{"identity": {}}`, "identity"},
		{"empty imei", `{"identity": {"hardware": {"imei": " "}}}`, "identity"},
		{"bad month", `{"identity": {"hardware": {"imei": "1"}}, "receivedAt": {"year": 2024, "month": 13, "day": 1}}`, "receivedAt"},
		{"not an object", `[1, 2]`, "envelope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIridium([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.stage, decodeErr.Stage)
		})
	}
}
