package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"tidewatch/internal/models"
)

const measurementName = "sensor_data"

type PointWriter interface {
	WritePoint(point *write.Point)
}

// ReadingWriter mirrors committed sensor updates into InfluxDB, one point per
// measurement. Writes are batched by the client.
type ReadingWriter struct {
	writer PointWriter
	logger zerolog.Logger
}

func NewReadingWriter(writer PointWriter, logger zerolog.Logger) *ReadingWriter {
	return &ReadingWriter{
		writer: writer,
		logger: logger,
	}
}

func (w *ReadingWriter) Publish(_ context.Context, update *models.SensorUpdate) error {
	ts, err := time.Parse(time.RFC3339Nano, update.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid update timestamp %q: %w", update.Timestamp, err)
	}

	for _, m := range update.Measurements {
		tags := map[string]string{
			"sensor":    update.Sensor,
			"parameter": m.Name,
			"health":    strconv.FormatBool(m.IsHealth),
		}
		fields := map[string]interface{}{
			"value": m.Value,
		}
		w.writer.WritePoint(influxdb2.NewPoint(measurementName, tags, fields, ts))
	}

	w.logger.Debug().
		Str("sensor", update.Sensor).
		Int("points", len(update.Measurements)).
		Msg("Added readings to InfluxDB")

	return nil
}
