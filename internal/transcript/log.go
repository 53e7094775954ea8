package transcript

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/feedback"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/gustawsonb-collab/gadugator/internal/reply"
	"github.com/tidwall/gjson"
)

// HydrateResult describes what Hydrate found.
type HydrateResult struct {
	// Source is the key the transcript was read from, empty when none.
	Source string
	// Migrated is set when a legacy key was rewritten under KeyCurrent.
	Migrated bool
	// Turns is the number of turns loaded.
	Turns int
}

// Log is the message log of one device. It is the only writer of the turn
// sequence; everything else receives copies.
type Log struct {
	mu     sync.Mutex
	store  *kv.Safe
	turns  []domain.Turn
	newID  func() string
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator overrides turn id generation.
func WithIDGenerator(fn func() string) Option {
	return func(l *Log) { l.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New returns an empty log persisted through store.
func New(store *kv.Safe, opts ...Option) *Log {
	l := &Log{
		store:  store,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hydrate loads the transcript from storage, migrating legacy layouts and
// reconciling feedback. It replaces the in-memory sequence.
func (l *Log) Hydrate() HydrateResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, res := l.readStored()
	l.turns = l.reconcile(entries)
	res.Turns = len(l.turns)
	if res.Source != "" && res.Source != KeyCurrent {
		res.Migrated = l.migrateLocked(res.Source)
	}
	return res
}

// migrateLocked writes the reconciled turns under KeyCurrent before deleting
// the legacy key, so an interrupted migration leaves the data in at least one
// place.
func (l *Log) migrateLocked(from string) bool {
	if !l.persistLocked() {
		return false
	}
	l.store.Remove(from)
	l.logger.Info("Migrated legacy transcript", "from", from, "turns", len(l.turns))
	return true
}

func (l *Log) readStored() ([]rawTurn, HydrateResult) {
	for _, src := range sources {
		blob, ok := l.store.Get(src.key)
		if !ok || blob == "" {
			continue
		}
		if !gjson.Valid(blob) {
			l.logger.Warn("Removing unreadable transcript blob", "key", src.key)
			l.store.Remove(src.key)
			continue
		}
		entries, ok := src.decode(gjson.Parse(blob))
		if !ok {
			continue
		}

		return entries, HydrateResult{Source: src.key}
	}
	return nil, HydrateResult{}
}

// reconcile coerces roles, repairs ids and re-derives feedback. The backward
// scan for the preceding user turn is O(n²) in the worst case, bounded by
// MaxPersisted.
func (l *Log) reconcile(entries []rawTurn) []domain.Turn {
	out := make([]domain.Turn, 0, len(entries))
	for i, e := range entries {
		t := domain.Turn{
			ID:   e.id,
			Role: domain.ParseRole(e.role),
			Text: e.text,
		}
		if t.ID == "" {
			t.ID = l.newID()
		}
		if e.origin != "" {
			t.Meta = &domain.TurnMeta{Kind: domain.OriginKind(e.origin)}
		}

		if t.Role == domain.RoleUser {
			out = append(out, t)
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			t.Text = reply.EmptyReplyPlaceholder
		}

		t.FeedbackVisible = true
		if e.feedbackOpen != nil {
			t.FeedbackVisible = *e.feedbackOpen
		}
		fb := feedback.Normalize(e.feedback)
		if fb == nil {
			synth := feedback.Synthesize(precedingUserText(entries, i))
			fb = &synth
		}
		t.Feedback = fb
		out = append(out, t)
	}
	return out
}

func precedingUserText(entries []rawTurn, idx int) string {
	for i := idx - 1; i >= 0; i-- {
		if domain.ParseRole(entries[i].role) == domain.RoleUser {
			return entries[i].text
		}
	}
	return ""
}

// AppendUser appends a user turn with trimmed text. It returns false when the
// text is blank.
func (l *Log) AppendUser(text string) (domain.Turn, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Turn{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := domain.Turn{ID: l.newID(), Role: domain.RoleUser, Text: text}
	l.turns = append(l.turns, t)
	l.persistLocked()
	return t.Clone(), true
}

// AppendAssistant appends an assistant turn. Blank text becomes the empty
// reply placeholder and absent feedback is synthesized from lastUserText.
func (l *Log) AppendAssistant(text string, fb *domain.Feedback, lastUserText string, origin domain.OriginKind) domain.Turn {
	text, final := reply.Result{Reply: strings.TrimSpace(text), Feedback: fb}.Finalize(lastUserText)

	l.mu.Lock()
	defer l.mu.Unlock()

	t := domain.Turn{
		ID:              l.newID(),
		Role:            domain.RoleAssistant,
		Text:            text,
		Feedback:        &final,
		FeedbackVisible: true,
	}
	if origin != domain.OriginNone {
		t.Meta = &domain.TurnMeta{Kind: origin}
	}
	l.turns = append(l.turns, t)
	l.persistLocked()
	return t.Clone()
}

// Seed appends pre-built turns, enforcing the feedback invariants.
func (l *Log) Seed(turns []domain.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range turns {
		t = t.Clone()
		if t.ID == "" {
			t.ID = l.newID()
		}
		if t.Role == domain.RoleUser {
			t.Feedback = nil
			t.FeedbackVisible = false
		} else {
			t.Feedback = feedback.OrSynthesize(t.Feedback, l.lastUserTextLocked())
		}
		l.turns = append(l.turns, t)
	}
	l.persistLocked()
}

// ToggleFeedback flips the fold state of an assistant turn. It returns the
// new state and whether the turn was found.
func (l *Log) ToggleFeedback(id string) (visible bool, found bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.turns {
		if l.turns[i].ID != id {
			continue
		}
		if l.turns[i].Role != domain.RoleAssistant {
			return false, true
		}
		l.turns[i].FeedbackVisible = !l.turns[i].FeedbackVisible
		l.persistLocked()
		return l.turns[i].FeedbackVisible, true
	}
	return false, false
}

// Reset clears memory and every transcript key, legacy ones included.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = nil
	for _, src := range sources {
		l.store.Remove(src.key)
	}
}

// Turns returns a deep copy of the sequence.
func (l *Log) Turns() []domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// LastUserText returns the text of the most recent user turn, or "".
func (l *Log) LastUserText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUserTextLocked()
}

func (l *Log) lastUserTextLocked() string {
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == domain.RoleUser {
			return l.turns[i].Text
		}
	}
	return ""
}

func (l *Log) persistLocked() bool {
	tail := l.turns
	if len(tail) > MaxPersisted {
		tail = tail[len(tail)-MaxPersisted:]
	}
	data, err := json.Marshal(tail)
	if err != nil {
		l.logger.Warn("Failed to encode transcript", "error", err)
		return false
	}
	if !l.store.Set(KeyCurrent, string(data)) {
		l.logger.Debug("Transcript not persisted", "turns", len(tail))
		return false
	}
	return true
}
