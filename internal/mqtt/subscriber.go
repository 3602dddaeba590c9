package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type SubscriberImpl struct {
	client  mqtt.Client
	router  *RouterImpl
	logger  zerolog.Logger
	timeout time.Duration

	subscriptions map[string]byte
	mu            sync.RWMutex
}

func NewSubscriber(client mqtt.Client, router *RouterImpl, logger zerolog.Logger) *SubscriberImpl {
	return &SubscriberImpl{
		client:        client,
		router:        router,
		logger:        logger.With().Str("component", "subscriber").Logger(),
		timeout:       30 * time.Second,
		subscriptions: make(map[string]byte),
	}
}

func (s *SubscriberImpl) SubscribeMultiple(topics []string, qos byte) error {
	for _, topic := range topics {
		if err := s.Subscribe(topic, qos); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}
	return nil
}

func (s *SubscriberImpl) Subscribe(topic string, qos byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.subscribe(topic, qos); err != nil {
		return err
	}
	s.subscriptions[topic] = qos
	return nil
}

func (s *SubscriberImpl) subscribe(topic string, qos byte) error {
	token := s.client.Subscribe(topic, qos, s.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	s.logger.Info().Str("topic", topic).Msg("Subscribed to topic")
	return nil
}

// Resubscribe restores every known subscription after a reconnect with a
// clean session.
func (s *SubscriberImpl) Resubscribe() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for topic, qos := range s.subscriptions {
		if err := s.subscribe(topic, qos); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to restore subscription")
		}
	}
}

func (s *SubscriberImpl) messageHandler(_ mqtt.Client, mqttMsg mqtt.Message) {
	s.Handle(mqttMsg.Topic(), mqttMsg.Payload())
}

// Handle routes one message with its own deadline.
func (s *SubscriberImpl) Handle(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Debug().
		Str("topic", topic).
		Int("size", len(payload)).
		Msg("Message received")

	if err := s.router.Route(ctx, topic, payload); err != nil {
		s.logger.Error().Err(err).
			Str("topic", topic).
			Msg("Handler failed")
	}
}
