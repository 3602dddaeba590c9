package listeners

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tidewatch/internal/models"
)

type Emitter interface {
	Emit(event string, data interface{}) error
}

// SensorTableListener turns changes of the sensors table into
// sensor_registry_update events for live clients, whichever process made them.
type SensorTableListener struct {
	*BaseTableListener
	emitter Emitter
	logger  zerolog.Logger
}

func NewSensorTableListener(emitter Emitter, logger zerolog.Logger) *SensorTableListener {
	return &SensorTableListener{
		BaseTableListener: NewBaseTableListener(models.Sensor{}.TableName()),
		emitter:           emitter,
		logger:            logger,
	}
}

func (s *SensorTableListener) HandleChange(_ context.Context, event *TableChangeEvent) error {
	switch event.Operation {
	case InsertOperation, UpdateOperation, DeleteOperation:
	default:
		return fmt.Errorf("unknown operation: %s", event.Operation)
	}

	row := event.Row()
	name, _ := row["name"].(string)
	if name == "" {
		return fmt.Errorf("%s event on %s carries no sensor name", event.Operation, event.Table)
	}

	update := &models.SensorRegistryEvent{
		Operation: strings.ToLower(string(event.Operation)),
		Sensor:    name,
		Timestamp: event.Timestamp.UTC(),
	}
	if event.Operation != DeleteOperation {
		if active, ok := row["active"].(bool); ok {
			update.Active = &active
		}
	}

	s.logger.Debug().
		Str("operation", update.Operation).
		Str("sensor", name).
		Msg("Sensor registry change detected")

	return s.emitter.Emit(models.EventSensorRegistryUpdate, update)
}
