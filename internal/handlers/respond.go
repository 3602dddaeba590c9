// Package handlers exposes ingestion, queries and the admin registry over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tidewatch/internal/decoder"
	"tidewatch/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, contentType string, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps pipeline and registry errors onto HTTP status codes.
func errorStatus(err error) int {
	var validation *services.ValidationError
	switch {
	case errors.Is(err, decoder.ErrEmptyPayload),
		errors.Is(err, decoder.ErrUnknownFormat),
		errors.Is(err, decoder.ErrDecode),
		errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, services.ErrConfirmationRequired),
		errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrSensorRejected):
		return http.StatusForbidden
	case errors.Is(err, services.ErrSensorNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSensorExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}
