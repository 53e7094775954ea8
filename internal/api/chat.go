package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/prompt"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
	"github.com/gustawsonb-collab/gadugator/internal/reply"
	"github.com/gustawsonb-collab/gadugator/internal/tutor"
	"github.com/tidwall/gjson"
)

// chatResponse is the body of POST /api/chat.
type chatResponse struct {
	Text     string          `json:"text"`
	Feedback domain.Feedback `json:"feedback"`
}

// Chat answers a conversation supplied by the caller. The request carries
// the whole conversation; nothing is stored server-side.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !gjson.ValidBytes(body) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := gjson.ParseBytes(body)

	messagesField := req.Get("messages")
	if messagesField.Exists() && !messagesField.IsArray() {
		Error(w, http.StatusBadRequest, "Invalid request: messages must be an array")
		return
	}
	messages, lastUser := chatMessages(messagesField)

	params := prompt.Params{
		Level: domain.Level(req.Get("level").String()),
		Mode:  domain.ParseMode(req.Get("mode").String()),
	}
	if sp := req.Get("sessionPrefs"); sp.IsObject() {
		params.Prefs = &domain.SessionPreferences{
			Level:            domain.Level(sp.Get("level").String()),
			Topic:            stringOrEmpty(sp.Get("topic")),
			Style:            domain.Style(sp.Get("style").String()),
			MotivationalMode: sp.Get("motivationalMode").Bool(),
		}
	}

	if h.svc.Completer == nil {
		providerError(w, provider.ErrNotConfigured, "")
		return
	}

	start := time.Now()
	raw, err := h.svc.Completer.Complete(r.Context(), provider.CompletionRequest{
		SystemPrompt: prompt.Build(params),
		Messages:     messages,
		Temperature:  h.opts.Temperature,
		JSON:         true,
	})
	h.svc.Metrics.RecordProviderCall(r.Context(), observe.ServiceCompletion, start, err, kindOf(err))
	if err != nil {
		providerError(w, err, "Server error: ")
		return
	}

	parsed := reply.Parse(raw)
	if parsed.Fallback {
		h.svc.Metrics.RecordParserFallback(r.Context())
	}
	text, fb := parsed.Finalize(lastUser)
	JSON(w, http.StatusOK, chatResponse{Text: text, Feedback: fb})
}

// chatMessages keeps the well-formed user and assistant entries of a
// caller-supplied conversation and returns the last user text.
func chatMessages(list gjson.Result) ([]provider.Message, string) {
	var (
		out      []provider.Message
		lastUser string
	)
	list.ForEach(func(_, m gjson.Result) bool {
		role, content := m.Get("role"), m.Get("content")
		if content.Type != gjson.String {
			return true
		}
		switch role.String() {
		case string(domain.RoleUser):
			out = append(out, provider.Message{Role: domain.RoleUser, Content: content.String()})
			lastUser = content.String()
		case string(domain.RoleAssistant):
			out = append(out, provider.Message{Role: domain.RoleAssistant, Content: content.String()})
		}
		return true
	})
	return out, lastUser
}

func stringOrEmpty(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

// SpeechToText transcribes an uploaded multipart "file" field.
func (h *Handler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	audio, filename, ok := h.readAudio(w, r)
	if !ok {
		return
	}
	if h.svc.Transcriber == nil {
		providerError(w, provider.ErrNotConfigured, "")
		return
	}

	start := time.Now()
	text, err := h.svc.Transcriber.Transcribe(r.Context(), bytes.NewReader(audio), filename)
	h.svc.Metrics.RecordProviderCall(r.Context(), observe.ServiceTranscription, start, err, kindOf(err))
	if err != nil {
		providerError(w, err, "STT failed: ")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"text": strings.TrimSpace(text)})
}

// ttsRequest is the body of the speech routes.
type ttsRequest struct {
	Text  string       `json:"text"`
	Voice domain.Voice `json:"voice"`
}

// TextToSpeech synthesizes mp3 audio for the given text.
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := tutor.PrepareText(req.Text, h.opts.SpeechChars)
	if text == "" {
		Error(w, http.StatusBadRequest, "No text to speak.")
		return
	}
	voice := req.Voice
	if !voice.Valid() {
		voice = domain.DefaultVoice
	}
	if h.svc.Synthesizer == nil {
		providerError(w, provider.ErrNotConfigured, "")
		return
	}

	start := time.Now()
	stream, err := h.svc.Synthesizer.Synthesize(r.Context(), text, voice)
	if err != nil {
		h.svc.Metrics.RecordProviderCall(r.Context(), observe.ServiceSpeech, start, err, kindOf(err))
		providerError(w, err, "TTS error: ")
		return
	}
	defer stream.Close()

	setAudioHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, stream)
	h.svc.Metrics.RecordProviderCall(r.Context(), observe.ServiceSpeech, start, err, kindOf(err))
	if err != nil {
		slog.Warn("TTS stream interrupted", "error", err)
	}
}

func setAudioHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
}

// readAudio extracts the multipart "file" field. It writes the error response
// itself and reports whether the caller should continue.
func (h *Handler) readAudio(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.MaxAudioBytes)+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, tutor.ErrAudioTooLarge.Error())
			return nil, "", false
		}
		Error(w, http.StatusBadRequest, "Missing audio file")
		return nil, "", false
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, int64(h.opts.MaxAudioBytes)+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read audio file")
		return nil, "", false
	}
	if len(audio) > h.opts.MaxAudioBytes {
		Error(w, http.StatusRequestEntityTooLarge, tutor.ErrAudioTooLarge.Error())
		return nil, "", false
	}
	return audio, header.Filename, true
}

func kindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case provider.IsQuotaError(err):
		return "quota"
	default:
		return "transport"
	}
}
