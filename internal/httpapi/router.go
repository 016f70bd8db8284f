// Package httpapi exposes the synthesis service over HTTP under /api/v1/tts.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/materials"
	"github.com/lexiqai/synthesis-gateway/internal/observability"
	"github.com/lexiqai/synthesis-gateway/internal/speakers"
	"github.com/lexiqai/synthesis-gateway/internal/synthesis"
)

// APIPrefix is where the TTS routes are mounted.
const APIPrefix = "/api/v1/tts"

const requestIDHeader = "X-Request-ID"

// Synthesizer is the part of *synthesis.Service the handlers use.
type Synthesizer interface {
	SubmitSynthesis(req synthesis.SynthesisRequest) (*synthesis.Future, error)
	SubmitClone(req synthesis.CloneRequest) (*synthesis.Future, error)
	Status() synthesis.Status
	Speakers() []speakers.Profile
	Models() []string
	OutputDir() string
}

type RouterConfig struct {
	// PublicBaseURL prefixes returned audio and preview URLs. Empty means
	// relative URLs.
	PublicBaseURL string

	// DefaultLanguage applies to clone requests without a language.
	DefaultLanguage string

	// WaitTimeout bounds how long a request waits for its job. Zero means
	// only the request context applies.
	WaitTimeout time.Duration
}

type Router struct {
	cfg       RouterConfig
	svc       Synthesizer
	materials *materials.Store
	logger    zerolog.Logger
}

// NewRouter returns a gorilla router with the TTS routes registered and
// recovery and request logging installed. Callers may add further routes.
func NewRouter(cfg RouterConfig, svc Synthesizer, store *materials.Store, logger zerolog.Logger) *mux.Router {
	r := &Router{
		cfg:       cfg,
		svc:       svc,
		materials: store,
		logger:    logger,
	}

	root := mux.NewRouter()
	root.Use(r.withRecovery, r.withRequestLogging)
	r.routes(root.PathPrefix(APIPrefix).Subrouter())

	return root
}

func (r *Router) routes(api *mux.Router) {
	// Synthesis
	api.HandleFunc("/generate", r.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/generate-with-clone", r.handleGenerateWithClone).Methods(http.MethodPost)
	api.HandleFunc("/get-audio", r.handleGetAudio).Methods(http.MethodGet)

	// Voice materials
	api.HandleFunc("/upload-voice-material", r.handleUploadMaterial).Methods(http.MethodPost)
	api.HandleFunc("/preview-material", r.handlePreviewMaterial).Methods(http.MethodGet)

	// Catalogue and state
	api.HandleFunc("/speakers", r.handleSpeakers).Methods(http.MethodGet)
	api.HandleFunc("/models", r.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/health", r.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", r.handleStatus).Methods(http.MethodGet)
}

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func (r *Router) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				r.logger.Error().
					Interface("panic", err).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Router) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger, id := observability.WithCorrelationID(r.logger, req.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, req.WithContext(logger.WithContext(req.Context())))

		logger.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
