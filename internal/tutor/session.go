package tutor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gustawsonb-collab/gadugator/internal/convlog"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/prefs"
	"github.com/gustawsonb-collab/gadugator/internal/prompt"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
	"github.com/gustawsonb-collab/gadugator/internal/quota"
	"github.com/gustawsonb-collab/gadugator/internal/reply"
	"github.com/gustawsonb-collab/gadugator/internal/transcript"
)

// connectFailedText is shown when a failure carries no usable message.
const connectFailedText = "Could not connect to the AI."

// Outcome classifies a Send.
type Outcome int

const (
	// OutcomeReplied means the assistant reply was appended.
	OutcomeReplied Outcome = iota
	// OutcomeDenied means the daily limit rejected the message.
	OutcomeDenied
	// OutcomeFailed means the completion call failed and a notice turn was
	// appended instead.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDenied:
		return "denied"
	case OutcomeFailed:
		return "failed"
	default:
		return "replied"
	}
}

// SendResult describes the effect of Send.
type SendResult struct {
	Outcome   Outcome
	User      domain.Turn
	Assistant domain.Turn
	// Notice is the user-facing denial message.
	Notice string
	// Fallback is set when the completion was shown as raw text.
	Fallback bool
	// Err is the completion failure behind OutcomeFailed.
	Err error
}

// State reports the busy flags.
type State struct {
	RequestInFlight bool `json:"requestInFlight"`
	Recording       bool `json:"recording"`
	Transcribing    bool `json:"transcribing"`
}

// Busy reports whether any flag is set.
func (s State) Busy() bool {
	return s.RequestInFlight || s.Recording || s.Transcribing
}

// View is a read-only snapshot of a session.
type View struct {
	DeviceID    string                    `json:"deviceId"`
	Mode        domain.Mode               `json:"mode"`
	Turns       []domain.Turn             `json:"turns"`
	Preferences domain.SessionPreferences `json:"preferences"`
	Configured  bool                      `json:"configured"`
	Settings    domain.Settings           `json:"settings"`
	Usage       quota.Status              `json:"usage"`
	State       State                     `json:"state"`
}

// Session is the conversation state of one device.
type Session struct {
	deviceID  string
	sessionID string
	deps      Deps
	opts      Options
	logger    *slog.Logger

	log    *transcript.Log
	prefs  *prefs.Store
	gate   *quota.Gate
	player *Player

	mu              sync.Mutex
	preferences     domain.SessionPreferences
	configured      bool
	mode            domain.Mode
	requestInFlight bool
	transcribing    bool
	rec             *recording
	lastActive      time.Time
}

// NewSession hydrates the session of deviceID from storage and seeds the
// onboarding transcript on first visit.
func NewSession(deviceID string, storage kv.Storage, deps Deps, opts Options) *Session {
	deps = deps.withDefaults()
	opts = opts.withDefaults()
	logger := deps.Logger.With("device_id", deviceID)
	safe := kv.NewSafe(storage, logger)

	s := &Session{
		deviceID:  deviceID,
		sessionID: uuid.NewString(),
		deps:      deps,
		opts:      opts,
		logger:    logger,
		log:       transcript.New(safe, transcript.WithLogger(logger)),
		prefs:     prefs.New(safe),
		gate: quota.New(safe,
			quota.WithLimit(opts.DailyLimit),
			quota.WithClock(opts.Clock),
			quota.WithLocation(opts.Location),
		),
		player:     newPlayer(deps.Synthesizer, opts.SpeechChars, deps.Metrics),
		mode:       opts.Mode,
		lastActive: opts.Clock(),
	}

	res := s.log.Hydrate()
	if res.Turns > 0 {
		logger.Info("Transcript hydrated", "source", res.Source, "turns", res.Turns, "migrated", res.Migrated)
	}
	if s.log.SeedOnboarding(s.prefs) {
		for range 3 {
			deps.Metrics.RecordTurn(context.Background(), string(domain.RoleAssistant), string(domain.OriginOnboarding))
		}
		logger.Info("Onboarding transcript seeded")
	}
	s.preferences, s.configured = s.prefs.Load()
	return s
}

// DeviceID returns the owning device.
func (s *Session) DeviceID() string { return s.deviceID }

// Send submits a user message. Blank text fails with ErrEmptyMessage and a
// busy session with ErrBusy; neither changes state. A quota denial is a
// normal outcome and changes nothing either. Otherwise the user turn is
// appended and the usage counted before the completion call is issued.
func (s *Session) Send(ctx context.Context, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}

	s.mu.Lock()
	s.lastActive = s.opts.Clock()
	if s.busyLocked() {
		s.mu.Unlock()
		return SendResult{}, ErrBusy
	}
	if s.gate.CheckAndReserve() == quota.Denied {
		s.mu.Unlock()
		s.deps.Metrics.RecordQuotaDenial(ctx)
		s.event(convlog.Event{Direction: "inbound", EventType: convlog.EventQuotaDenied, ContentRaw: text})
		return SendResult{Outcome: OutcomeDenied, Notice: s.gate.DeniedNotice()}, nil
	}

	userTurn, _ := s.log.AppendUser(text)
	s.gate.Increment()
	s.requestInFlight = true
	req := provider.CompletionRequest{
		SystemPrompt: prompt.Build(prompt.Params{Prefs: &s.preferences, Mode: s.mode}),
		Messages:     provider.MessagesFromTurns(s.log.Turns()),
		Temperature:  s.opts.Temperature,
		JSON:         true,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.requestInFlight = false
		s.lastActive = s.opts.Clock()
		s.mu.Unlock()
	}()

	s.deps.Metrics.RecordTurn(ctx, string(domain.RoleUser), "")
	s.event(convlog.Event{Direction: "inbound", EventType: convlog.EventUserMessage, TurnID: userTurn.ID, ContentRaw: text})

	result := SendResult{User: userTurn}
	raw, err := s.complete(ctx, req)
	if err != nil {
		msg := FailureText(err)
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Assistant = s.log.AppendAssistant(msg, nil, text, domain.OriginNotice)
		s.deps.Metrics.RecordTurn(ctx, string(domain.RoleAssistant), string(domain.OriginNotice))
		s.logger.Warn("Completion failed", "error", err)
		s.event(convlog.Event{Direction: "outbound", EventType: convlog.EventNotice, TurnID: result.Assistant.ID, ContentRaw: msg})
		return result, nil
	}

	parsed := reply.Parse(raw)
	if parsed.Fallback {
		s.deps.Metrics.RecordParserFallback(ctx)
		s.logger.Debug("Completion was not usable JSON, showing raw text")
	}
	result.Fallback = parsed.Fallback
	result.Assistant = s.log.AppendAssistant(parsed.Reply, parsed.Feedback, text, domain.OriginNone)
	s.deps.Metrics.RecordTurn(ctx, string(domain.RoleAssistant), "")

	ev := convlog.Event{
		Direction:  "outbound",
		EventType:  convlog.EventAssistantMessage,
		TurnID:     result.Assistant.ID,
		ContentRaw: result.Assistant.Text,
		Fallback:   parsed.Fallback,
	}
	if fb := result.Assistant.Feedback; fb != nil {
		ev.Corrected = fb.Corrected
		ev.Tips = fb.Tips
	}
	s.event(ev)
	return result, nil
}

func (s *Session) complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	if s.deps.Completer == nil {
		return "", provider.ErrNotConfigured
	}
	start := time.Now()
	raw, err := s.deps.Completer.Complete(ctx, req)
	s.deps.Metrics.RecordProviderCall(ctx, observe.ServiceCompletion, start, err, errorKind(err))
	return raw, err
}

// FailureText converts a remote failure into the text shown to the learner.
func FailureText(err error) string {
	if provider.IsQuotaError(err) {
		return provider.QuotaMessage
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return strings.TrimSpace(apiErr.Message)
	}
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		return strings.TrimSpace(err.Error())
	}
	return connectFailedText
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case provider.IsQuotaError(err):
		return "quota"
	default:
		return "transport"
	}
}

// Turns returns a snapshot of the transcript.
func (s *Session) Turns() []domain.Turn {
	return s.log.Turns()
}

// ToggleFeedback flips the feedback fold of an assistant turn.
func (s *Session) ToggleFeedback(turnID string) (visible, found bool) {
	s.touch()
	return s.log.ToggleFeedback(turnID)
}

// ExportText renders the transcript as plain text.
func (s *Session) ExportText() string {
	return s.log.ExportText()
}

// Reset stops playback and clears the transcript including legacy keys.
func (s *Session) Reset() {
	s.touch()
	s.player.Stop()
	s.log.Reset()
	s.event(convlog.Event{Direction: "inbound", EventType: convlog.EventReset})
	s.logger.Info("Session reset")
}

// Preferences returns the active preferences and whether they were saved.
func (s *Session) Preferences() (domain.SessionPreferences, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferences, s.configured
}

// SavePreferences validates, persists and activates p.
func (s *Session) SavePreferences(p domain.SessionPreferences, customTopic string) domain.SessionPreferences {
	saved := s.prefs.Save(p, customTopic)
	s.mu.Lock()
	s.preferences = saved
	s.configured = true
	s.lastActive = s.opts.Clock()
	s.mu.Unlock()
	return saved
}

// Mode returns the conversation mode.
func (s *Session) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches between tutor and chat mode.
func (s *Session) SetMode(m domain.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = domain.ParseMode(string(m))
}

// Settings returns the UI settings.
func (s *Session) Settings() domain.Settings {
	return s.prefs.Settings()
}

// SettingsUpdate is a partial settings change. Nil fields are left as is.
type SettingsUpdate struct {
	Theme        *domain.Theme `json:"theme"`
	VoiceEnabled *bool         `json:"voiceEnabled"`
	Voice        *domain.Voice `json:"voice"`
}

// UpdateSettings applies u. Disabling voice stops any playback. Unknown
// voices are ignored.
func (s *Session) UpdateSettings(u SettingsUpdate) domain.Settings {
	s.touch()
	if u.Theme != nil {
		s.prefs.SetTheme(*u.Theme)
	}
	if u.VoiceEnabled != nil {
		s.prefs.SetVoiceEnabled(*u.VoiceEnabled)
		if !*u.VoiceEnabled {
			s.player.Stop()
		}
	}
	if u.Voice != nil {
		s.prefs.SetVoice(*u.Voice)
	}
	return s.prefs.Settings()
}

// Usage returns the quota counters.
func (s *Session) Usage() quota.Status {
	return s.gate.Status()
}

// ActivatePremium sets the premium override.
func (s *Session) ActivatePremium() quota.Status {
	s.touch()
	s.gate.ActivatePremium()
	return s.gate.Status()
}

// State returns the busy flags.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Busy reports whether a request, recording or transcription is pending.
func (s *Session) Busy() bool {
	return s.State().Busy()
}

// View returns a snapshot for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	p, configured, mode, state := s.preferences, s.configured, s.mode, s.stateLocked()
	s.mu.Unlock()

	return View{
		DeviceID:    s.deviceID,
		Mode:        mode,
		Turns:       s.log.Turns(),
		Preferences: p,
		Configured:  configured,
		Settings:    s.prefs.Settings(),
		Usage:       s.gate.Status(),
		State:       state,
	}
}

// LastActive returns the time of the last interaction.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close releases playback and any recording timer.
func (s *Session) Close() {
	s.player.Stop()
	s.mu.Lock()
	if s.rec != nil {
		s.rec.timer.Stop()
		s.rec = nil
	}
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.opts.Clock()
	s.mu.Unlock()
}

func (s *Session) stateLocked() State {
	return State{
		RequestInFlight: s.requestInFlight,
		Recording:       s.rec != nil,
		Transcribing:    s.transcribing,
	}
}

func (s *Session) busyLocked() bool {
	return s.stateLocked().Busy()
}

func (s *Session) event(ev convlog.Event) {
	ev.DeviceID = s.deviceID
	ev.SessionID = s.sessionID
	if ev.Channel == "" {
		ev.Channel = "session"
	}
	s.deps.ConvLog.Log(ev)
}
