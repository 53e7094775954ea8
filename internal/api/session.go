package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/identity"
	"github.com/gustawsonb-collab/gadugator/internal/prefs"
	"github.com/gustawsonb-collab/gadugator/internal/quota"
	"github.com/gustawsonb-collab/gadugator/internal/transcript"
	"github.com/gustawsonb-collab/gadugator/internal/tutor"
)

// session resolves the device session of the request. It writes the error
// response itself when no session is available.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*tutor.Session, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "missing device identity")
		return nil, false
	}
	s, err := h.mgr.Get(r.Context(), deviceID)
	if err != nil {
		slog.Error("Failed to load session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}

// GetSession returns the full session view.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// ResetSession clears the transcript.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	JSON(w, http.StatusOK, s.View())
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Outcome   string       `json:"outcome"`
	User      *domain.Turn `json:"user,omitempty"`
	Assistant *domain.Turn `json:"assistant,omitempty"`
	Notice    string       `json:"notice,omitempty"`
	Fallback  bool         `json:"fallback,omitempty"`
	Usage     quota.Status `json:"usage"`
}

// SendMessage submits a learner message and returns the exchange.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.Send(r.Context(), req.Text)
	switch {
	case errors.Is(err, tutor.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, tutor.ErrBusy):
		Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, toSendResponse(res, s.Usage()))
}

func toSendResponse(res tutor.SendResult, usage quota.Status) sendResponse {
	out := sendResponse{
		Outcome:  res.Outcome.String(),
		Notice:   res.Notice,
		Fallback: res.Fallback,
		Usage:    usage,
	}
	if res.Outcome != tutor.OutcomeDenied {
		user, assistant := res.User, res.Assistant
		out.User, out.Assistant = &user, &assistant
	}
	return out
}

// ToggleFeedback flips the feedback fold of an assistant turn.
func (h *Handler) ToggleFeedback(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	visible, found := s.ToggleFeedback(id)
	if !found {
		Error(w, http.StatusNotFound, "turn not found")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"id": id, "feedbackOpen": visible})
}

// Export downloads the transcript as plain text.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+transcript.ExportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.ExportText()))
}

// Transcribe converts an uploaded recording of the session into text.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	audio, filename, ok := h.readAudio(w, r)
	if !ok {
		return
	}

	text, err := s.Transcribe(r.Context(), audio, filename)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, map[string]string{"text": text})
	case errors.Is(err, tutor.ErrAudioTooShort):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tutor.ErrAudioTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, tutor.ErrBusy):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, tutor.ErrNoSpeech):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		providerError(w, err, "STT failed: ")
	}
}

// Speak streams the spoken form of text. Starting a new utterance aborts the
// previous one of the same device; an aborted stream ends early.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ttsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tutor.PrepareText(req.Text, h.opts.SpeechChars) == "" {
		Error(w, http.StatusBadRequest, "No text to speak.")
		return
	}
	voice := req.Voice
	if !voice.Valid() {
		voice = s.Settings().Voice
	}

	sink := newAudioSink(w)
	err := s.SpeakWith(r.Context(), req.Text, voice, sink.write)
	switch {
	case err == nil, errors.Is(err, tutor.ErrAborted), errors.Is(err, context.Canceled):
		sink.end()
	case sink.started():
		slog.Warn("Speech stream interrupted", "error", err)
	default:
		providerError(w, err, "TTS error: ")
	}
}

// StopSpeech aborts playback in progress.
func (h *Handler) StopSpeech(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.StopSpeech()
	w.WriteHeader(http.StatusNoContent)
}

// audioSink writes audio headers lazily so a failure before the first chunk
// can still be reported as JSON.
type audioSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	written bool
}

func newAudioSink(w http.ResponseWriter) *audioSink {
	return &audioSink{w: w}
}

func (a *audioSink) write(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.written {
		setAudioHeaders(a.w)
		a.w.WriteHeader(http.StatusOK)
		a.written = true
	}
	if _, err := a.w.Write(chunk); err != nil {
		return err
	}
	if f, ok := a.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (a *audioSink) started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// end answers 204 when no audio was produced.
func (a *audioSink) end() {
	if !a.started() {
		a.w.WriteHeader(http.StatusNoContent)
	}
}

type preferencesResponse struct {
	Preferences domain.SessionPreferences `json:"preferences"`
	Configured  bool                      `json:"configured"`
	Mode        domain.Mode               `json:"mode"`
	Topics      []string                  `json:"topics"`
}

type preferencesRequest struct {
	domain.SessionPreferences
	CustomTopic string      `json:"customTopic"`
	Mode        domain.Mode `json:"mode"`
}

// GetPreferences returns the session preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	p, configured := s.Preferences()
	JSON(w, http.StatusOK, preferencesResponse{Preferences: p, Configured: configured, Mode: s.Mode(), Topics: prefs.Topics})
}

// PutPreferences saves the session setup dialog.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Level != "" && !req.Level.Valid() {
		Error(w, http.StatusBadRequest, "invalid level")
		return
	}
	if req.Style != "" && !req.Style.Valid() {
		Error(w, http.StatusBadRequest, "invalid style")
		return
	}

	saved := s.SavePreferences(req.SessionPreferences, req.CustomTopic)
	if req.Mode != "" {
		s.SetMode(req.Mode)
	}
	JSON(w, http.StatusOK, preferencesResponse{Preferences: saved, Configured: true, Mode: s.Mode(), Topics: prefs.Topics})
}

// GetSettings returns the UI settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, settingsResponse(s.Settings()))
}

// PutSettings applies a partial settings update.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tutor.SettingsUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Voice != nil && !req.Voice.Valid() {
		Error(w, http.StatusBadRequest, "unknown voice")
		return
	}
	JSON(w, http.StatusOK, settingsResponse(s.UpdateSettings(req)))
}

func settingsResponse(st domain.Settings) map[string]interface{} {
	return map[string]interface{}{
		"theme":        st.Theme,
		"voiceEnabled": st.VoiceEnabled,
		"voice":        st.Voice,
		"voices":       domain.Voices,
	}
}

// GetUsage returns the daily quota counters.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Usage())
}

// ActivatePremium lifts the daily limit for the device.
func (h *Handler) ActivatePremium(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.ActivatePremium())
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HealthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := map[string]interface{}{
		"status":   "healthy",
		"checks":   checks,
		"sessions": h.mgr.Len(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}
	if h.svc.Completer == nil {
		checks["ai"] = "not_configured"
	} else {
		checks["ai"] = "ok"
	}

	JSON(w, statusCode, status)
}
