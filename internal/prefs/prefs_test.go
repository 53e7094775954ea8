package prefs

import (
	"testing"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	return New(kv.NewSafe(mem, nil)), mem
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	p, configured := s.Load()
	assert.False(t, configured)
	assert.Equal(t, domain.DefaultSessionPreferences(), p)

	require.NoError(t, mem.Set(KeySessionPrefs, "{broken"))
	p, configured = s.Load()
	assert.False(t, configured)
	assert.Equal(t, domain.DefaultSessionPreferences(), p)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	require.NoError(t, mem.Set(KeySessionPrefs, `{"level":"B2","style":"shouty","motivationalMode":false}`))

	p, configured := s.Load()
	assert.True(t, configured)
	assert.Equal(t, domain.LevelB2, p.Level)
	assert.Equal(t, "travel", p.Topic)
	assert.Equal(t, domain.StyleFormal, p.Style)
	assert.False(t, p.MotivationalMode)
}

func TestSave(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	saved := s.Save(domain.SessionPreferences{
		Level: "Z9", Topic: domain.CustomTopic, Style: domain.StyleHumorous,
	}, "  airports ")
	assert.Equal(t, domain.LevelA1, saved.Level)
	assert.Equal(t, "airports", saved.Topic)
	assert.Equal(t, domain.StyleHumorous, saved.Style)

	loaded, configured := s.Load()
	assert.True(t, configured)
	assert.Equal(t, saved, loaded)

	saved = s.Save(domain.SessionPreferences{Level: domain.LevelC1, Topic: domain.CustomTopic}, "")
	assert.Equal(t, "travel", saved.Topic)
	assert.Equal(t, domain.StyleFormal, saved.Style)
}

func TestSettings(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	assert.Equal(t, domain.Settings{Theme: domain.ThemeLight, VoiceEnabled: true, Voice: domain.DefaultVoice}, s.Settings())

	assert.Equal(t, domain.ThemeDark, s.SetTheme(domain.ThemeDark))
	assert.Equal(t, domain.ThemeLight, s.SetTheme("neon"))
	assert.Equal(t, domain.ThemeLight, s.Theme())

	s.SetVoiceEnabled(false)
	raw, _ := mem.Raw(KeyVoiceEnabled)
	assert.Equal(t, "0", raw)
	assert.False(t, s.VoiceEnabled())

	assert.True(t, s.SetVoice("nova"))
	assert.False(t, s.SetVoice("robot"))
	assert.Equal(t, domain.Voice("nova"), s.Voice())

	require.NoError(t, mem.Set(KeyVoice, "robot"))
	assert.Equal(t, domain.DefaultVoice, s.Voice())
}

func TestInitState(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	assert.Equal(t, domain.NotStarted, s.InitState())
	s.MarkOnboarded()
	assert.Equal(t, domain.Onboarded, s.InitState())
}
