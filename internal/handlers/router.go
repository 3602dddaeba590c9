package handlers

import (
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"tidewatch/internal/auth"
)

type RouterConfig struct {
	Ingest         *IngestHandler
	Sensors        *SensorHandler
	Live           http.Handler
	Authenticator  *auth.BasicAuthenticator
	AllowedOrigins []string
	Ready          func() error
	Logger         zerolog.Logger
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from handler panic")
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/receive_data", cfg.Ingest.HandleReceiveData).Methods(http.MethodPost)
	r.HandleFunc("/healthz", healthz(cfg.Ready)).Methods(http.MethodGet)
	if cfg.Live != nil {
		r.Handle("/ws", cfg.Live)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensors", cfg.Sensors.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/sensors.geojson", cfg.Sensors.HandleGeoJSON).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}", cfg.Sensors.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/image", cfg.Sensors.HandleImage).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/data", cfg.Sensors.HandleData).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/health", cfg.Sensors.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/latest", cfg.Sensors.HandleLatest).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/parameters", cfg.Sensors.HandleParameters).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/summary", cfg.Sensors.HandleSummary).Methods(http.MethodGet)
	api.HandleFunc("/sensors/{name}/track", cfg.Sensors.HandleTrack).Methods(http.MethodGet)

	admin := cfg.Authenticator.Middleware
	api.Handle("/sensors", admin(http.HandlerFunc(cfg.Sensors.HandleOnboard))).Methods(http.MethodPost)
	api.Handle("/sensors/{name}", admin(http.HandlerFunc(cfg.Sensors.HandleUpdate))).Methods(http.MethodPatch)
	api.Handle("/sensors/{name}", admin(http.HandlerFunc(cfg.Sensors.HandleDelete))).Methods(http.MethodDelete)
	api.Handle("/sensors/{name}/activate", admin(cfg.Sensors.setActive(true))).Methods(http.MethodPost)
	api.Handle("/sensors/{name}/deactivate", admin(cfg.Sensors.setActive(false))).Methods(http.MethodPost)
	api.Handle("/parameters/sweep", admin(http.HandlerFunc(cfg.Sensors.HandleSweepParameters))).Methods(http.MethodPost)
	api.Use(gorillahandlers.CompressHandler)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	var h http.Handler = r
	h = gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(origins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type", FormatHeader}),
	)(h)
	h = gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{logger: cfg.Logger}),
	)(h)

	return h
}

func healthz(ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
