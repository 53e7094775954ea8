// Package prefs persists the session preferences and per-device UI settings.
package prefs

import (
	"encoding/json"
	"strings"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/tidwall/gjson"
)

// Storage keys.
const (
	KeySessionPrefs = "gaduGator.sessionPrefs"
	KeyTheme        = "gadugator.theme.v1"
	KeyOnboarded    = "gadugator.onboarded.v1"
	KeyVoiceEnabled = "gadugator.tts.enabled.v2"
	KeyVoice        = "gadugator.tts.voice.v2"
)

// Topics offered by the setup dialog, besides a custom topic.
var Topics = []string{
	"travel", "work", "daily life", "hobbies",
	"food", "shopping", "school", "technology",
}

// Store reads and writes preferences and settings of one device. Missing or
// corrupt values always fall back to defaults.
type Store struct {
	kv *kv.Safe
}

// New returns a Store backed by store.
func New(store *kv.Safe) *Store {
	return &Store{kv: store}
}

// Load returns the stored preferences merged over the defaults. configured
// is false when nothing usable was stored, so the setup dialog should open.
func (s *Store) Load() (p domain.SessionPreferences, configured bool) {
	p = domain.DefaultSessionPreferences()
	raw, ok := s.kv.Get(KeySessionPrefs)
	if !ok || !gjson.Valid(raw) {
		return p, false
	}
	v := gjson.Parse(raw)
	if !v.IsObject() {
		return p, false
	}

	if lvl := domain.Level(v.Get("level").String()); lvl.Valid() {
		p.Level = lvl
	}
	if topic := v.Get("topic"); topic.Type == gjson.String && strings.TrimSpace(topic.Str) != "" {
		p.Topic = strings.TrimSpace(topic.Str)
	}
	if style := domain.Style(v.Get("style").String()); style.Valid() {
		p.Style = style
	}
	if m := v.Get("motivationalMode"); m.IsBool() {
		p.MotivationalMode = m.Bool()
	}
	return p, true
}

// Normalize validates p field by field. A topic of "custom" is replaced by
// customTopic, falling back to the default topic when blank.
func Normalize(p domain.SessionPreferences, customTopic string) domain.SessionPreferences {
	def := domain.DefaultSessionPreferences()
	if !p.Level.Valid() {
		p.Level = def.Level
	}
	if !p.Style.Valid() {
		p.Style = def.Style
	}
	p.Topic = strings.TrimSpace(p.Topic)
	if p.Topic == domain.CustomTopic {
		p.Topic = strings.TrimSpace(customTopic)
	}
	if p.Topic == "" {
		p.Topic = def.Topic
	}
	return p
}

// Save normalizes and stores p wholesale. It returns the stored value.
func (s *Store) Save(p domain.SessionPreferences, customTopic string) domain.SessionPreferences {
	p = Normalize(p, customTopic)
	if data, err := json.Marshal(p); err == nil {
		s.kv.Set(KeySessionPrefs, string(data))
	}
	return p
}

// Theme returns the stored theme, light by default.
func (s *Store) Theme() domain.Theme {
	if v, ok := s.kv.Get(KeyTheme); ok && domain.Theme(v) == domain.ThemeDark {
		return domain.ThemeDark
	}
	return domain.ThemeLight
}

// SetTheme stores the theme. Anything but dark is stored as light.
func (s *Store) SetTheme(t domain.Theme) domain.Theme {
	if t != domain.ThemeDark {
		t = domain.ThemeLight
	}
	s.kv.Set(KeyTheme, string(t))
	return t
}

// VoiceEnabled reports whether replies are read aloud. Default true.
func (s *Store) VoiceEnabled() bool {
	v, ok := s.kv.Get(KeyVoiceEnabled)
	return !ok || v != "0"
}

// SetVoiceEnabled stores the voice toggle as "1" or "0".
func (s *Store) SetVoiceEnabled(enabled bool) {
	v := "0"
	if enabled {
		v = "1"
	}
	s.kv.Set(KeyVoiceEnabled, v)
}

// Voice returns the stored voice, or the default voice.
func (s *Store) Voice() domain.Voice {
	if v, ok := s.kv.Get(KeyVoice); ok && domain.Voice(v).Valid() {
		return domain.Voice(v)
	}
	return domain.DefaultVoice
}

// SetVoice stores v. Unknown voices are ignored and false is returned.
func (s *Store) SetVoice(v domain.Voice) bool {
	if !v.Valid() {
		return false
	}
	s.kv.Set(KeyVoice, string(v))
	return true
}

// Settings returns all UI settings.
func (s *Store) Settings() domain.Settings {
	return domain.Settings{
		Theme:        s.Theme(),
		VoiceEnabled: s.VoiceEnabled(),
		Voice:        s.Voice(),
	}
}

// InitState reports whether the onboarding transcript was already shown.
func (s *Store) InitState() domain.InitState {
	if v, ok := s.kv.Get(KeyOnboarded); ok && v == "1" {
		return domain.Onboarded
	}
	return domain.NotStarted
}

// MarkOnboarded persists the onboarded state.
func (s *Store) MarkOnboarded() {
	s.kv.Set(KeyOnboarded, "1")
}
