package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"tidewatch/internal/auth"
	"tidewatch/internal/models"
	"tidewatch/internal/services"
)

const (
	defaultWindow = 24 * time.Hour
	geoJSONType   = "application/geo+json"
)

type SensorHandler struct {
	sensorService *services.SensorService
	queryService  *services.QueryService
	logger        zerolog.Logger
	now           func() time.Time
}

func NewSensorHandler(sensorService *services.SensorService, queryService *services.QueryService, logger zerolog.Logger) *SensorHandler {
	return &SensorHandler{
		sensorService: sensorService,
		queryService:  queryService,
		logger:        logger,
		now:           time.Now,
	}
}

// window reads start and end (RFC3339). Without them the last day is used.
func (h *SensorHandler) window(r *http.Request) (time.Time, time.Time, error) {
	end := h.now().UTC()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be RFC3339: %w", err)
		}
		end = t
	}

	start := end.Add(-defaultWindow)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start must be RFC3339: %w", err)
		}
		start = t
	}
	return start, end, nil
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func (h *SensorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.sensorService.List(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]models.SensorDto, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, s.ToDto())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SensorHandler) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	b, err := h.queryService.SensorsGeoJSON(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, geoJSONType, b)
}

func (h *SensorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sensor, err := h.sensorService.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor.ToDto())
}

func (h *SensorHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	sensor, err := h.sensorService.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sensor.Image == "" {
		writeError(w, http.StatusNotFound, "sensor has no image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image": sensor.Image})
}

func (h *SensorHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := h.queryService.Range(r.Context(), mux.Vars(r)["name"], start, end, queryBool(r, "include_health"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *SensorHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := h.queryService.Health(r.Context(), mux.Vars(r)["name"], start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *SensorHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	data, err := h.queryService.Latest(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *SensorHandler) HandleParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.queryService.Parameters(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (h *SensorHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queryService.Summary(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *SensorHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.queryService.TrackGeoJSON(r.Context(), mux.Vars(r)["name"], start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, geoJSONType, b)
}

func (h *SensorHandler) HandleOnboard(w http.ResponseWriter, r *http.Request) {
	var input services.SensorInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	sensor, err := h.sensorService.Onboard(r.Context(), auth.FromContext(r.Context()), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sensor.ToDto())
}

func (h *SensorHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch services.SensorPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	sensor, err := h.sensorService.Update(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["name"], patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensor.ToDto())
}

func (h *SensorHandler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if err := h.sensorService.SetActive(r.Context(), auth.FromContext(r.Context()), name, active); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sensor": name, "active": active})
	}
}

func (h *SensorHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	removed, err := h.sensorService.Delete(r.Context(), auth.FromContext(r.Context()), name, queryBool(r, "confirm"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensor": name, "readings_deleted": removed})
}

func (h *SensorHandler) HandleSweepParameters(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sensorService.SweepParameters(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"parameters_deleted": removed})
}
