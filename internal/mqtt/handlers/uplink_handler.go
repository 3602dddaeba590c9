package handlers

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"tidewatch/internal/decoder"
	"tidewatch/internal/metrics"
	"tidewatch/internal/mqtt"
	"tidewatch/internal/services"
)

type Ingester interface {
	Ingest(ctx context.Context, raw []byte, hint decoder.Format) (*services.IngestResult, error)
}

// UplinkHandlerImpl feeds network server uplink events into the same
// pipeline as the HTTP endpoint. Payloads on this topic are always LoRaWAN.
type UplinkHandlerImpl struct {
	ingester     Ingester
	topicManager *mqtt.TopicManagerImpl
	logger       zerolog.Logger
}

func NewUplinkHandler(ingester Ingester, topicManager *mqtt.TopicManagerImpl, logger zerolog.Logger) *UplinkHandlerImpl {
	return &UplinkHandlerImpl{
		ingester:     ingester,
		topicManager: topicManager,
		logger:       logger.With().Str("handler", "uplink").Logger(),
	}
}

func (h *UplinkHandlerImpl) Process(ctx context.Context, topic string, payload []byte) error {
	metrics.MsgReceivedCounter.WithLabelValues(metrics.SourceMQTT).Inc()

	device, err := h.topicManager.ExtractDevice(topic)
	if err != nil {
		device = "unknown"
	}

	result, err := h.ingester.Ingest(ctx, payload, decoder.FormatLoRaWAN)
	if err != nil {
		// Uplinks from devices that are not onboarded are expected on a shared
		// network server application.
		if errors.Is(err, services.ErrSensorRejected) {
			h.logger.Debug().Err(err).
				Str("topic", topic).
				Str("device", device).
				Msg("Uplink ignored")
			return nil
		}
		return err
	}

	h.logger.Debug().
		Str("device", device).
		Str("sensor", result.Sensor).
		Int("stored", result.Stored).
		Msg("Uplink processed")

	return nil
}

var _ mqtt.TopicHandler = (*UplinkHandlerImpl)(nil)
