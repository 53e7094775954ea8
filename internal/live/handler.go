package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/identity"
	"github.com/gustawsonb-collab/gadugator/internal/quota"
	"github.com/gustawsonb-collab/gadugator/internal/tutor"
)

// maxFrameBytes bounds incoming frames. Audio arrives in many small chunks.
const maxFrameBytes = 1 << 20

// Handler upgrades requests to the live session channel.
type Handler struct {
	mgr           *tutor.Manager
	conns         *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a live channel handler.
func NewHandler(mgr *tutor.Manager, conns *Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		mgr:           mgr,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inFrame is a command sent by the client.
type inFrame struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Voice    domain.Voice `json:"voice,omitempty"`
	Filename string       `json:"filename,omitempty"`
}

// outFrame is an event sent to the client.
type outFrame struct {
	Type    string        `json:"type"`
	Turn    *domain.Turn  `json:"turn,omitempty"`
	Notice  string        `json:"notice,omitempty"`
	Error   string        `json:"error,omitempty"`
	Text    string        `json:"text,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	TurnID  string        `json:"turnId,omitempty"`
	Aborted bool          `json:"aborted,omitempty"`
	Usage   *quota.Status `json:"usage,omitempty"`
}

// Frame types.
const (
	frameSend        = "send"
	frameRecordStart = "record_start"
	frameRecordStop  = "record_stop"
	frameSpeak       = "speak"
	frameStopSpeech  = "stop_speech"
	frameReset       = "reset"
	framePing        = "ping"

	eventTurn             = "turn"
	eventDenied           = "denied"
	eventError            = "error"
	eventTranscript       = "transcript"
	eventRecordingStarted = "recording_started"
	eventRecordingStopped = "recording_stopped"
	eventAudioStart       = "audio_start"
	eventAudioEnd         = "audio_end"
	eventReset            = "reset"
	eventPong             = "pong"
)

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	connID := uuid.NewString()
	h.conns.Register(deviceID, connID, ws)
	defer h.conns.Unregister(deviceID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		h:        h,
		ws:       ws,
		ctx:      ctx,
		deviceID: deviceID,
		logger:   slog.Default().With("device_id", deviceID, "conn_id", connID),
	}
	c.readLoop()

	cancel()
	c.cleanup()
	c.wg.Wait()
	c.logger.Info("Live session ended", "open_connections", h.conns.Len())
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// conn is one live connection.
type conn struct {
	h        *Handler
	ws       *websocket.Conn
	ctx      context.Context
	deviceID string
	logger   *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// session resolves the device session for every command so an evicted
// session is transparently hydrated again.
func (c *conn) session() (*tutor.Session, error) {
	return c.h.mgr.Get(c.ctx, c.deviceID)
}

func (c *conn) readLoop() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("WebSocket closed by client")
			} else {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		s, err := c.session()
		if err != nil {
			c.logger.Error("Failed to load session", "error", err)
			c.writeEvent(outFrame{Type: eventError, Error: "failed to load session"})
			return
		}

		if typ == websocket.MessageBinary {
			if err := s.AppendAudio(data); err != nil {
				c.writeEvent(outFrame{Type: eventError, Error: err.Error()})
			}
			continue
		}

		var msg inFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			c.writeEvent(outFrame{Type: eventError, Error: "invalid frame"})
			continue
		}
		c.dispatch(s, msg)
	}
}

func (c *conn) dispatch(s *tutor.Session, msg inFrame) {
	switch msg.Type {
	case frameSend:
		c.spawn(func() { c.send(s, msg.Text) })
	case frameRecordStart:
		c.startRecording(s)
	case frameRecordStop:
		audio, err := s.StopRecording()
		if err != nil {
			c.writeEvent(outFrame{Type: eventError, Error: err.Error()})
			return
		}
		c.writeEvent(outFrame{Type: eventRecordingStopped, Reason: "user"})
		c.spawn(func() { c.transcribe(s, audio, msg.Filename) })
	case frameSpeak:
		voice := msg.Voice
		if !voice.Valid() {
			voice = s.Settings().Voice
		}
		c.spawn(func() { c.speak(s, msg.Text, voice, "") })
	case frameStopSpeech:
		s.StopSpeech()
	case frameReset:
		s.Reset()
		c.writeEvent(outFrame{Type: eventReset})
	case framePing:
		c.writeEvent(outFrame{Type: eventPong})
	default:
		c.writeEvent(outFrame{Type: eventError, Error: "unknown frame type: " + msg.Type})
	}
}

func (c *conn) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *conn) send(s *tutor.Session, text string) {
	// The exchange outlives the connection so the reply is still persisted.
	res, err := s.Send(context.WithoutCancel(c.ctx), text)
	if err != nil {
		c.writeEvent(outFrame{Type: eventError, Error: err.Error()})
		return
	}
	usage := s.Usage()
	if res.Outcome == tutor.OutcomeDenied {
		c.writeEvent(outFrame{Type: eventDenied, Notice: res.Notice, Usage: &usage})
		return
	}

	user, assistant := res.User, res.Assistant
	c.writeEvent(outFrame{Type: eventTurn, Turn: &user, Usage: &usage})
	c.writeEvent(outFrame{Type: eventTurn, Turn: &assistant})

	if res.Outcome == tutor.OutcomeReplied {
		c.speak(s, assistant.Text, "", assistant.ID)
	}
}

func (c *conn) startRecording(s *tutor.Session) {
	err := s.StartRecording(func(audio []byte) {
		if c.ctx.Err() != nil {
			return
		}
		c.writeEvent(outFrame{Type: eventRecordingStopped, Reason: "limit"})
		c.spawn(func() { c.transcribe(s, audio, "") })
	})
	if err != nil {
		c.writeEvent(outFrame{Type: eventError, Error: err.Error()})
		return
	}
	c.writeEvent(outFrame{Type: eventRecordingStarted})
}

func (c *conn) transcribe(s *tutor.Session, audio []byte, filename string) {
	if filename == "" {
		filename = "speech.webm"
	}
	text, err := s.Transcribe(c.ctx, audio, filename)
	if err != nil {
		c.writeEvent(outFrame{Type: eventError, Error: tutor.FailureText(err)})
		return
	}
	c.writeEvent(outFrame{Type: eventTranscript, Text: text})
}

// speak streams speech as audio_start, binary chunks and audio_end. An empty
// voice reads a reply aloud with the device settings, honoring the voice
// toggle.
func (c *conn) speak(s *tutor.Session, text string, voice domain.Voice, turnID string) {
	started := false
	sink := func(chunk []byte) error {
		if !started {
			started = true
			c.writeEvent(outFrame{Type: eventAudioStart, TurnID: turnID})
		}
		return c.writeBinary(chunk)
	}

	var err error
	if voice == "" {
		err = s.Speak(c.ctx, text, sink)
	} else {
		err = s.SpeakWith(c.ctx, text, voice, sink)
	}

	aborted := errors.Is(err, tutor.ErrAborted)
	if started {
		c.writeEvent(outFrame{Type: eventAudioEnd, TurnID: turnID, Aborted: aborted})
	}
	if err != nil && !aborted && c.ctx.Err() == nil {
		c.logger.Warn("Speech failed", "error", err)
		c.writeEvent(outFrame{Type: eventError, Error: tutor.FailureText(err)})
	}
}

// cleanup stops playback and discards an unfinished recording.
func (c *conn) cleanup() {
	s := c.h.mgr.Lookup(c.deviceID)
	if s == nil {
		return
	}
	s.StopSpeech()
	if _, err := s.StopRecording(); err == nil {
		c.logger.Info("Discarded unfinished recording")
	}
}

func (c *conn) writeEvent(ev outFrame) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("Failed to encode live event", "error", err)
		return
	}
	if err := c.write(websocket.MessageText, data); err != nil {
		c.logger.Debug("Failed to send live event", "type", ev.Type, "error", err)
	}
}

func (c *conn) writeBinary(p []byte) error {
	return c.write(websocket.MessageBinary, p)
}

func (c *conn) write(typ websocket.MessageType, p []byte) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(c.ctx, typ, p)
}
