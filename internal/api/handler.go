// Package api provides HTTP handlers for the GaduGator API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
	"github.com/gustawsonb-collab/gadugator/internal/store"
	"github.com/gustawsonb-collab/gadugator/internal/tutor"
)

const defaultHealthCheckTimeout = 5 * time.Second

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// Services are the remote services used by the stateless routes.
type Services struct {
	Completer   provider.Completer
	Transcriber provider.Transcriber
	Synthesizer provider.Synthesizer
	Metrics     *observe.Metrics
}

// Options tune the handlers.
type Options struct {
	Temperature        float64
	MinAudioBytes      int
	MaxAudioBytes      int
	SpeechChars        int
	HealthCheckTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Temperature == 0 {
		o.Temperature = tutor.DefaultTemperature
	}
	if o.MinAudioBytes <= 0 {
		o.MinAudioBytes = tutor.DefaultMinAudioBytes
	}
	if o.MaxAudioBytes <= 0 {
		o.MaxAudioBytes = tutor.DefaultMaxAudioBytes
	}
	if o.SpeechChars <= 0 {
		o.SpeechChars = tutor.DefaultSpeechChars
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = defaultHealthCheckTimeout
	}
	return o
}

// Handler serves the REST API.
type Handler struct {
	repo store.Repository
	mgr  *tutor.Manager
	svc  Services
	opts Options
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, mgr *tutor.Manager, svc Services, opts Options) *Handler {
	return &Handler{
		repo: repo,
		mgr:  mgr,
		svc:  svc,
		opts: opts.withDefaults(),
	}
}

// RegisterHealth registers the health check route. It needs no device
// identity.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// RegisterRoutes registers the device-scoped and stateless API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/stt", h.SpeechToText)
		r.Post("/tts", h.TextToSpeech)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.ResetSession)
			r.Post("/messages", h.SendMessage)
			r.Post("/turns/{id}/feedback", h.ToggleFeedback)
			r.Get("/export", h.Export)
			r.Post("/transcribe", h.Transcribe)
			r.Post("/speech", h.Speak)
			r.Delete("/speech", h.StopSpeech)
		})

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.PutPreferences)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)
		r.Get("/usage", h.GetUsage)
		r.Post("/premium", h.ActivatePremium)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// providerError converts a remote service failure into a response. A missing
// API key is a server misconfiguration; 429 and quota failures carry the
// billing message.
func providerError(w http.ResponseWriter, err error, prefix string) {
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		Error(w, http.StatusInternalServerError, err.Error())
	case provider.IsQuotaError(err):
		slog.Error("Remote service quota exceeded", "error", err)
		Error(w, http.StatusTooManyRequests, provider.QuotaMessage)
	default:
		status := provider.StatusCode(err, http.StatusInternalServerError)
		if status < 400 {
			status = http.StatusInternalServerError
		}
		slog.Error("Remote service failed", "prefix", prefix, "error", err)
		Error(w, status, prefix+tutor.FailureText(err))
	}
}
