package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidewatch/internal/database/store/repositories"
)

func newQueryFixture(t *testing.T) (*ingestFixture, *QueryService) {
	t.Helper()
	f := newIngestFixture(t)
	sensors := NewSensorService(f.sensors, repositories.NewParameterRepository(f.db), zerolog.Nop())
	return f, NewQueryService(sensors, f.data, zerolog.Nop())
}

func TestQueryRangeAndHealth(t *testing.T) {
	f, q := newQueryFixture(t)
	f.onboard(t, "buoy-1", true)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, []byte(buoyUplink), "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()

	data, err := q.Range(ctx, "buoy-1", at.Add(-time.Hour), at, false)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "temperature", data[0].Parameter)

	all, err := q.Range(ctx, "buoy-1", at, at.Add(time.Hour), true)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	health, err := q.Health(ctx, "buoy-1", at, at)
	require.NoError(t, err)
	assert.Len(t, health, 3)

	_, err = q.Range(ctx, "buoy-1", at.Add(time.Hour), at, false)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = q.Range(ctx, "nope", at, at, false)
	assert.ErrorIs(t, err, ErrSensorNotFound)
}

func TestQuerySummary(t *testing.T) {
	f, q := newQueryFixture(t)
	f.onboard(t, "buoy-1", true)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, []byte(buoyUplink), "")
	require.NoError(t, err)

	summary, err := q.Summary(ctx, "buoy-1")
	require.NoError(t, err)
	assert.Equal(t, "buoy-1", summary.Sensor.Name)
	require.Len(t, summary.Latest, 1)
	assert.Equal(t, 21.4, summary.Latest[0].Value)
	assert.Len(t, summary.Health, 3)
	require.NotNil(t, summary.UpdatedAt)
	assert.True(t, summary.UpdatedAt.Equal(time.Unix(1700000000, 0)))

	params, err := q.Parameters(ctx, "buoy-1")
	require.NoError(t, err)
	assert.Len(t, params, 4)
}

func TestSensorsGeoJSON(t *testing.T) {
	f, q := newQueryFixture(t)
	ctx := context.Background()

	sensor := f.onboard(t, "buoy-1", true)
	require.NoError(t, f.sensors.UpdateLocation(ctx, sensor.ID, 29.3, -94.8))
	f.onboard(t, "buoy-2", false)

	raw, err := q.SensorsGeoJSON(ctx, true)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-94.8, 29.3}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "buoy-1", fc.Features[0].Properties["name"])
}

func TestTrackGeoJSON(t *testing.T) {
	f, q := newQueryFixture(t)
	f.onboard(t, "drifter", true)
	ctx := context.Background()

	for i, pos := range [][2]float64{{29.0, -94.0}, {29.1, -94.1}, {29.2, -94.2}} {
		uplink := map[string]interface{}{
			"deviceInfo": map[string]string{"deviceName": "drifter"},
			"rxInfo":     []map[string]float64{{"rssi": -90}},
			"object": map[string]float64{
				"timestamp": float64(1700000000 + i*600),
				"latitude":  pos[0],
				"longitude": pos[1],
			},
		}
		raw, err := json.Marshal(uplink)
		require.NoError(t, err)
		_, err = f.service.Ingest(ctx, raw, "")
		require.NoError(t, err)
	}

	start := time.Unix(1700000000, 0)
	raw, err := q.TrackGeoJSON(ctx, "drifter", start, start.Add(time.Hour))
	require.NoError(t, err)

	var feature struct {
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &feature))
	assert.Equal(t, "LineString", feature.Geometry.Type)
	assert.Equal(t, [][]float64{{-94.0, 29.0}, {-94.1, 29.1}, {-94.2, 29.2}}, feature.Geometry.Coordinates)
	assert.Equal(t, float64(3), feature.Properties["points"])
}
