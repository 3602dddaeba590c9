package mqtt

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"tidewatch/internal/config"
)

// BrokerImpl owns the broker connection and the publisher, subscriber and
// router built on top of it.
type BrokerImpl struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger zerolog.Logger

	publisher  *PublisherImpl
	subscriber *SubscriberImpl
	router     *RouterImpl

	mu      sync.Mutex
	started bool
}

func NewBroker(cfg *config.MQTTConfig, logger zerolog.Logger) *BrokerImpl {
	broker := &BrokerImpl{
		config: cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("%s-%d", cfg.ClientID, rand.Intn(10000)))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOnConnectHandler(broker.onConnect)
	opts.SetConnectionLostHandler(broker.onConnectionLost)

	broker.client = mqtt.NewClient(opts)
	broker.router = NewRouter(logger)
	broker.publisher = NewPublisher(broker.client, logger)
	broker.subscriber = NewSubscriber(broker.client, broker.router, logger)

	return broker
}

func (b *BrokerImpl) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("broker already started")
	}

	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("error connecting to MQTT broker: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("connection to MQTT broker timed out: %w", ctx.Err())
	}

	b.started = true
	b.logger.Info().
		Str("broker", b.config.Host).
		Int("port", b.config.Port).
		Msg("MQTT broker connected")

	return nil
}

func (b *BrokerImpl) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}

	b.logger.Info().Msg("Disconnecting from MQTT broker...")
	b.client.Disconnect(250)
	b.started = false
}

func (b *BrokerImpl) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

func (b *BrokerImpl) GetPublisher() *PublisherImpl {
	return b.publisher
}

func (b *BrokerImpl) GetSubscriber() *SubscriberImpl {
	return b.subscriber
}

func (b *BrokerImpl) GetRouter() *RouterImpl {
	return b.router
}

func (b *BrokerImpl) onConnect(_ mqtt.Client) {
	b.logger.Info().Msg("Connected to MQTT broker")
	if b.config.CleanSession {
		go b.subscriber.Resubscribe()
	}
}

func (b *BrokerImpl) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn().Err(err).Msg("Lost connection to MQTT broker")
}
