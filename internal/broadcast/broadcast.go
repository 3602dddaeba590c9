// Package broadcast delivers committed sensor updates to live consumers.
// Delivery is best effort and never affects ingestion.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, update *models.SensorUpdate) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, update *models.SensorUpdate) error

func (f PublisherFunc) Publish(ctx context.Context, update *models.SensorUpdate) error {
	return f(ctx, update)
}

// Message is the envelope every live client receives.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func Encode(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: payload})
}

// DefaultSinkTimeout bounds a single sink's delivery of one update.
const DefaultSinkTimeout = time.Second

type sink struct {
	name      string
	publisher Publisher
}

// Fanout hands each update to every registered sink concurrently. Each sink
// gets its own deadline, detached from the caller's cancellation.
type Fanout struct {
	sinks   []sink
	timeout time.Duration
}

func NewFanout() *Fanout {
	return &Fanout{timeout: DefaultSinkTimeout}
}

func (f *Fanout) WithTimeout(timeout time.Duration) *Fanout {
	if timeout > 0 {
		f.timeout = timeout
	}
	return f
}

func (f *Fanout) Add(name string, publisher Publisher) *Fanout {
	f.sinks = append(f.sinks, sink{name: name, publisher: publisher})
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, update *models.SensorUpdate) error {
	if len(f.sinks) == 0 {
		return nil
	}

	base := context.WithoutCancel(ctx)
	results := make(chan error, len(f.sinks))
	for _, s := range f.sinks {
		go func(s sink) {
			results <- f.deliver(base, s, update)
		}(s)
	}

	var errs []error
	for range f.sinks {
		if err := <-results; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver returns once the sink is done or its deadline passes, whichever
// comes first.
func (f *Fanout) deliver(base context.Context, s sink, update *models.SensorUpdate) error {
	ctx, cancel := context.WithTimeout(base, f.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.publisher.Publish(ctx, update)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		select {
		case err = <-done:
		default:
			err = ctx.Err()
		}
	}
	if err != nil {
		metrics.BroadcastErrorCounter.WithLabelValues(s.name).Inc()
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}
