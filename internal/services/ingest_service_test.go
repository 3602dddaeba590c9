package services

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/database/store/storetest"
	"tidewatch/internal/decoder"
	"tidewatch/internal/models"
)

const buoyUplink = `{
	"deviceInfo": {"deviceName": "buoy-1"},
	"rxInfo": [{"rssi": -97, "snr": 7.5}],
	"object": {"Temperature": 21.4, "battery": 3.7, "timestamp": 1700000000}
}`

type capturePublisher struct {
	mu      sync.Mutex
	updates []*models.SensorUpdate
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, update *models.SensorUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return p.err
}

type ingestFixture struct {
	db        *gorm.DB
	service   *IngestService
	publisher *capturePublisher
	sensors   *repositories.SensorRepository
	data      *repositories.SensorDataRepository
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db := storetest.NewSQLite(t)

	f := &ingestFixture{
		db:        db,
		publisher: &capturePublisher{},
		sensors:   repositories.NewSensorRepository(db),
		data:      repositories.NewSensorDataRepository(db),
	}
	f.service = NewIngestService(
		db,
		decoder.NewRegistry(),
		f.sensors,
		repositories.NewParameterRepository(db),
		f.data,
		f.publisher,
		zerolog.Nop(),
	)
	return f
}

func (f *ingestFixture) onboard(t *testing.T, name string, active bool) *models.Sensor {
	t.Helper()
	sensor := &models.Sensor{Name: name, DeviceType: models.DeviceTypeSonde, Timezone: "UTC", Active: true}
	require.NoError(t, f.sensors.Create(context.Background(), sensor))
	if !active {
		require.NoError(t, f.sensors.SetActive(context.Background(), name, false))
	}
	return sensor
}

func (f *ingestFixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func TestIngestLoRaWAN(t *testing.T) {
	f := newIngestFixture(t)
	sensor := f.onboard(t, "buoy-1", true)
	ctx := context.Background()

	result, err := f.service.Ingest(ctx, []byte(buoyUplink), "")
	require.NoError(t, err)

	assert.Equal(t, "buoy-1", result.Sensor)
	assert.Equal(t, decoder.FormatLoRaWAN, result.Format)
	assert.Equal(t, 4, result.Stored)
	assert.False(t, result.LocationUpdated)

	at := time.Unix(1700000000, 0).UTC()
	observations, err := f.data.Range(ctx, sensor.ID, at, at, repositories.HealthAny)
	require.NoError(t, err)
	require.Len(t, observations, 4)

	byName := make(map[string]models.Observation)
	for _, o := range observations {
		byName[o.Parameter] = o
		assert.True(t, o.Timestamp.Equal(at))
	}
	assert.Equal(t, 21.4, byName["temperature"].Value)
	assert.Equal(t, "°C", byName["temperature"].Unit)
	assert.Equal(t, 3.7, byName["battery"].Value)
	assert.Equal(t, -97.0, byName["rssi"].Value)
	assert.Equal(t, 7.5, byName["snr"].Value)

	require.Len(t, f.publisher.updates, 1)
	update := f.publisher.updates[0]
	assert.Equal(t, "buoy-1", update.Sensor)
	assert.Equal(t, "2023-11-14T22:13:20Z", update.Timestamp)
	require.Len(t, update.Measurements, 4)
	assert.Equal(t, "battery", update.Measurements[0].Name)
	assert.True(t, update.Measurements[0].IsHealth)
	assert.Equal(t, "temperature", update.Measurements[3].Name)
	assert.False(t, update.Measurements[3].IsHealth)
}

func TestIngestReusesParameters(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, []byte(buoyUplink), "")
	require.NoError(t, err)
	_, err = f.service.Ingest(ctx, []byte(buoyUplink), decoder.FormatLoRaWAN)
	require.NoError(t, err)

	assert.Equal(t, int64(4), f.count(t, &models.Parameter{}))
	assert.Equal(t, int64(8), f.count(t, &models.SensorData{}))
}

func TestIngestRejectsUnknownSensor(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSensorRejected)
	assert.Equal(t, "Device 'buoy-1' not onboarded.", err.Error())

	assert.Zero(t, f.count(t, &models.SensorData{}))
	assert.Zero(t, f.count(t, &models.Parameter{}))
	assert.Empty(t, f.publisher.updates)
}

func TestIngestRejectsInactiveSensor(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", false)

	_, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")

	var rejected *SensorRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.True(t, rejected.Inactive)
	assert.Zero(t, f.count(t, &models.SensorData{}))
}

func TestIngestDecodeErrors(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, nil, "")
	assert.ErrorIs(t, err, decoder.ErrEmptyPayload)

	_, err = f.service.Ingest(ctx, []byte(`{"hello": "world"}`), "")
	assert.ErrorIs(t, err, decoder.ErrUnknownFormat)

	_, err = f.service.Ingest(ctx, []byte(`{"deviceInfo": {"deviceName": "buoy-1"}, "rxInfo": [], "object": {}}`), "")
	assert.ErrorIs(t, err, decoder.ErrDecode)

	assert.Zero(t, f.count(t, &models.SensorData{}))
	assert.Empty(t, f.publisher.updates)
}

func TestIngestIridiumUpdatesLocation(t *testing.T) {
	f := newIngestFixture(t)
	sensor := f.onboard(t, "iridium_300434063839690", true)
	ctx := context.Background()

	frame := []byte{0x01, 0x00}
	for _, r := range []struct {
		tag   byte
		value float32
	}{{4, 26.1}, {3, 8.1}} {
		buf := make([]byte, 5)
		buf[0] = r.tag
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(r.value))
		frame = append(frame, buf...)
	}

	raw := `{
		"identity": {"hardware": {"imei": "300434063839690"}},
		"receivedAt": {"year": 2024, "month": 3, "day": 9, "hour": 17, "minute": 4, "second": 55},
		"location": {"lat": 29.31, "lon": -94.79},
		"data": "` + base64.StdEncoding.EncodeToString(frame) + `"
	}`

	result, err := f.service.Ingest(ctx, []byte(raw), "")
	require.NoError(t, err)
	assert.Equal(t, decoder.FormatIridium, result.Format)
	assert.True(t, result.LocationUpdated)
	assert.Equal(t, 4, result.Stored)

	stored, err := f.sensors.FindByName(ctx, sensor.Name)
	require.NoError(t, err)
	assert.Equal(t, 29.31, stored.Latitude)
	assert.Equal(t, -94.79, stored.Longitude)

	latest, err := f.data.MostRecent(ctx, sensor.ID)
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, o := range latest {
		values[o.Parameter] = o.Value
	}
	assert.Equal(t, map[string]float64{
		"latitude":    29.31,
		"longitude":   -94.79,
		"ph":          8.1,
		"temperature": 26.1,
	}, values)
}

func TestIngestRollsBackOnPartialFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)

	inserts := 0
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_third_reading", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "sensor_data" {
			return
		}
		inserts++
		if inserts == 3 {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.NotErrorIs(t, err, ErrSensorRejected)

	assert.Zero(t, f.count(t, &models.SensorData{}))
	assert.Zero(t, f.count(t, &models.Parameter{}))
	assert.Empty(t, f.publisher.updates)
}

func TestIngestBroadcastFailureDoesNotFail(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)
	f.publisher.err = errors.New("hub closed")

	result, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Stored)
	assert.Equal(t, int64(4), f.count(t, &models.SensorData{}))
}

func TestNormalizeMeasurements(t *testing.T) {
	out := normalizeMeasurements(map[string]float64{
		"Temperature": 1,
		"temperature": 2,
		" PH ":        7,
		"Depth":       3,
		"DEPTH":       4,
		"  ":          9,
	}, zerolog.Nop())

	assert.Equal(t, map[string]float64{
		"temperature": 2,
		"ph":          7,
		"depth":       4,
	}, out)
}

type blockingPublisher struct {
	release chan struct{}
}

func (p *blockingPublisher) Publish(context.Context, *models.SensorUpdate) error {
	<-p.release
	return nil
}

func TestIngestDoesNotWaitOnStuckBroadcast(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)

	stuck := &blockingPublisher{release: make(chan struct{})}
	defer close(stuck.release)
	f.service.publisher = stuck
	f.service.WithBroadcastTimeout(50 * time.Millisecond)

	start := time.Now()
	result, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 4, result.Stored)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, int64(4), f.count(t, &models.SensorData{}))
}

func TestIngestBroadcastRunsOnItsOwnDeadline(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)
	f.service.WithBroadcastTimeout(time.Second)

	var deadline time.Time
	var hasDeadline bool
	f.service.publisher = publisherFunc(func(ctx context.Context, _ *models.SensorUpdate) error {
		deadline, hasDeadline = ctx.Deadline()
		return nil
	})

	start := time.Now()
	_, err := f.service.Ingest(context.Background(), []byte(buoyUplink), "")
	require.NoError(t, err)

	require.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(time.Second), deadline, time.Second)
}

type publisherFunc func(ctx context.Context, update *models.SensorUpdate) error

func (f publisherFunc) Publish(ctx context.Context, update *models.SensorUpdate) error {
	return f(ctx, update)
}

func TestIngestKeepsFractionalTimestamp(t *testing.T) {
	f := newIngestFixture(t)
	f.onboard(t, "buoy-1", true)

	raw := `{
		"deviceInfo": {"deviceName": "buoy-1"},
		"rxInfo": [{"rssi": -97, "snr": 7.5}],
		"object": {"temperature": 21.4, "timestamp": 1700000000.5}
	}`
	result, err := f.service.Ingest(context.Background(), []byte(raw), "")
	require.NoError(t, err)

	require.Len(t, f.publisher.updates, 1)
	broadcastAt, err := time.Parse(time.RFC3339Nano, f.publisher.updates[0].Timestamp)
	require.NoError(t, err)
	assert.True(t, broadcastAt.Equal(result.Timestamp))
	assert.Equal(t, "2023-11-14T22:13:20.5Z", f.publisher.updates[0].Timestamp)
}

func TestIngestIgnoresOutOfRangePosition(t *testing.T) {
	f := newIngestFixture(t)
	sensor := f.onboard(t, "iridium_300434063839690", true)
	ctx := context.Background()

	frame := []byte{0x01, 0x00, 0x04}
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, math.Float32bits(26.1))
	frame = append(frame, value...)

	raw := `{
		"identity": {"hardware": {"imei": "300434063839690"}},
		"receivedAt": {"year": 2024, "month": 3, "day": 9, "hour": 17, "minute": 4, "second": 55},
		"location": {"lat": 999, "lon": -94.79},
		"data": "` + base64.StdEncoding.EncodeToString(frame) + `"
	}`

	result, err := f.service.Ingest(ctx, []byte(raw), "")
	require.NoError(t, err)
	assert.False(t, result.LocationUpdated)
	assert.Equal(t, 1, result.Stored)

	stored, err := f.sensors.FindByName(ctx, sensor.Name)
	require.NoError(t, err)
	assert.Zero(t, stored.Latitude)
	assert.Zero(t, stored.Longitude)

	require.Len(t, f.publisher.updates, 1)
	for _, m := range f.publisher.updates[0].Measurements {
		assert.NotEqual(t, models.ParamLatitude, m.Name)
	}
}
