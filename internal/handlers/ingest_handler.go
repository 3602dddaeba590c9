package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"tidewatch/internal/decoder"
	"tidewatch/internal/metrics"
	"tidewatch/internal/services"
)

const FormatHeader = "X-Payload-Format"

type Ingester interface {
	Ingest(ctx context.Context, raw []byte, hint decoder.Format) (*services.IngestResult, error)
}

type ingestResponse struct {
	Message string `json:"message"`
	Sensor  string `json:"sensor"`
	Format  string `json:"format"`
	Stored  int    `json:"stored"`
}

type IngestHandler struct {
	ingester     Ingester
	maxBodyBytes int64
	logger       zerolog.Logger
}

func NewIngestHandler(ingester Ingester, maxBodyBytes int64, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		ingester:     ingester,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// HandleReceiveData accepts one LoRaWAN or Iridium envelope. The format is
// detected from the body unless given as ?format= or X-Payload-Format.
func (h *IngestHandler) HandleReceiveData(w http.ResponseWriter, r *http.Request) {
	metrics.MsgReceivedCounter.WithLabelValues(metrics.SourceHTTP).Inc()

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	hint := r.URL.Query().Get("format")
	if hint == "" {
		hint = r.Header.Get(FormatHeader)
	}

	result, err := h.ingester.Ingest(r.Context(), raw, decoder.Format(hint))
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Ingestion failed")
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Message: "Data received and stored",
		Sensor:  result.Sensor,
		Format:  string(result.Format),
		Stored:  result.Stored,
	})
}
