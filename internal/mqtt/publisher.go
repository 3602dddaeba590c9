package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"tidewatch/internal/models"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

type PublisherImpl struct {
	client mqtt.Client
	logger zerolog.Logger
}

func NewPublisher(client mqtt.Client, logger zerolog.Logger) *PublisherImpl {
	return &PublisherImpl{
		client: client,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

func (p *PublisherImpl) PublishInterface(topic string, message interface{}, qos byte, retained bool) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Publish(topic, payload, qos, retained)
}

func (p *PublisherImpl) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return p.PublishContext(context.Background(), topic, payload, qos, retained)
}

// PublishContext waits for the broker acknowledgement until ctx is done, and
// never longer than publishTimeout.
func (p *PublisherImpl) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("MQTT client is not connected")
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	token := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s abandoned: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	p.logger.Debug().
		Str("topic", topic).
		Int("size", len(payload)).
		Bool("retained", retained).
		Msg("Message published")

	return nil
}

// EventPublisher forwards committed sensor updates to the broker, one topic
// per sensor. The last update is retained so late subscribers see it.
type EventPublisher struct {
	publisher    Publisher
	topicManager *TopicManagerImpl
	qos          byte
}

func NewEventPublisher(publisher Publisher, topicManager *TopicManagerImpl, qos byte) *EventPublisher {
	return &EventPublisher{
		publisher:    publisher,
		topicManager: topicManager,
		qos:          qos,
	}
}

func (e *EventPublisher) Publish(ctx context.Context, update *models.SensorUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor update: %w", err)
	}
	return e.publisher.PublishContext(ctx, e.topicManager.SensorUpdateTopic(update.Sensor), payload, e.qos, true)
}
