package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidewatch/internal/models"
)

func TestTopicToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		match   bool
	}{
		{"application/+/device/+/event/up", "application/7/device/0004a30b001c0530/event/up", true},
		{"application/+/device/+/event/up", "application/7/device/0004a30b001c0530/event/join", false},
		{"application/+/device/+/event/up", "application/7/x/device/abc/event/up", false},
		{"tidewatch/#", "tidewatch/sensors/buoy-1/update", true},
		{"tidewatch/#", "tidewatch", true},
		{"tidewatch/#", "tidewatchers/x", false},
		{"#", "anything/at/all", true},
		{"a.b/+", "a.b/c", true},
		{"a.b/+", "axb/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			router := NewRouter(zerolog.Nop())
			called := false
			router.RegisterHandler(tt.pattern, TopicHandlerFunc(func(context.Context, string, []byte) error {
				called = true
				return nil
			}))

			err := router.Route(context.Background(), tt.topic, nil)
			if tt.match {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
			assert.Equal(t, tt.match, called)
		})
	}
}

func TestRouterFirstMatchWins(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	var got []string
	router.RegisterHandler("tidewatch/sensors/+/update", TopicHandlerFunc(func(_ context.Context, topic string, _ []byte) error {
		got = append(got, "specific")
		return nil
	}))
	router.RegisterHandler("tidewatch/#", TopicHandlerFunc(func(context.Context, string, []byte) error {
		got = append(got, "catch-all")
		return errors.New("boom")
	}))

	require.NoError(t, router.Route(context.Background(), "tidewatch/sensors/a/update", nil))
	require.Error(t, router.Route(context.Background(), "tidewatch/other", nil))
	assert.Equal(t, []string{"specific", "catch-all"}, got)
	assert.Equal(t, []string{"tidewatch/sensors/+/update", "tidewatch/#"}, router.Patterns())
}

func TestTopicManager(t *testing.T) {
	tm := NewTopicManager("tidewatch/", "")

	assert.Equal(t, DefaultUplinkTopic, tm.UplinkTopic())
	assert.Equal(t, "tidewatch/sensors/buoy-1/update", tm.SensorUpdateTopic("buoy-1"))
	assert.Equal(t, "tidewatch/sensors/a_b_c/update", tm.SensorUpdateTopic("a/b+c"))
	assert.Equal(t, "tidewatch/sensors/+/update", tm.SensorUpdateSubTopic())

	sensor, err := tm.ExtractSensor("tidewatch/sensors/buoy-1/update")
	require.NoError(t, err)
	assert.Equal(t, "buoy-1", sensor)

	_, err = tm.ExtractSensor("tidewatch/sensors/buoy-1")
	assert.Error(t, err)
	_, err = tm.ExtractSensor("other/sensors/buoy-1/update")
	assert.Error(t, err)

	device, err := tm.ExtractDevice("application/7/device/0004a30b001c0530/event/up")
	require.NoError(t, err)
	assert.Equal(t, "0004a30b001c0530", device)

	_, err = tm.ExtractDevice("application/7/event/up")
	assert.Error(t, err)
}

type recordingPublisher struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (r *recordingPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return r.PublishContext(context.Background(), topic, payload, qos, retained)
}

func (r *recordingPublisher) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	r.topic, r.payload, r.qos, r.retained = topic, payload, qos, retained
	return nil
}

// stalledPublisher never gets an acknowledgement and waits for its context.
type stalledPublisher struct{}

func (stalledPublisher) Publish(string, []byte, byte, bool) error {
	select {}
}

func (stalledPublisher) PublishContext(ctx context.Context, _ string, _ []byte, _ byte, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEventPublisher(t *testing.T) {
	rec := &recordingPublisher{}
	events := NewEventPublisher(rec, NewTopicManager("tidewatch", ""), 1)

	update := &models.SensorUpdate{
		Sensor:       "buoy-1",
		Timestamp:    "2024-05-01T12:00:00Z",
		Measurements: []models.MeasurementUpdate{{Name: "temperature", Value: 21.4}},
	}
	require.NoError(t, events.Publish(context.Background(), update))

	assert.Equal(t, "tidewatch/sensors/buoy-1/update", rec.topic)
	assert.Equal(t, byte(1), rec.qos)
	assert.True(t, rec.retained)

	var got models.SensorUpdate
	require.NoError(t, json.Unmarshal(rec.payload, &got))
	assert.Equal(t, *update, got)
}

func TestEventPublisherHonoursDeadline(t *testing.T) {
	events := NewEventPublisher(stalledPublisher{}, NewTopicManager("tidewatch", ""), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := events.Publish(ctx, models.NewSensorUpdate("buoy-1", time.Now(), map[string]float64{"ph": 8.1}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
