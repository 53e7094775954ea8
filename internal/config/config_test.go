package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "GG_") || strings.HasPrefix(key, "CONVERSATION_LOG_") ||
			key == "OPENAI_API_KEY" || key == "PORT" || key == "DB_PATH" ||
			key == "FRONTEND_URL" || key == "LOG_LEVEL" || key == "APP_ENV" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15, cfg.Tutor.DailyLimit)
	assert.InDelta(t, 0.7, cfg.Tutor.Temperature, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Tutor.RecordingCap)
	assert.Equal(t, 900, cfg.Tutor.SpeechChars)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.False(t, cfg.AIConfigured())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_APIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.OpenAI.APIKey)

	t.Setenv("GG_OPENAI_API_KEY", "sk-primary")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", cfg.OpenAI.APIKey)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gadugator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
log_level: debug
tutor:
  daily_limit: 40
  recording_cap: 20s
  timezone: Europe/Warsaw
session:
  idle_ttl: 10m
`), 0o600))
	t.Setenv("GG_CONFIG_FILE", path)
	t.Setenv("GG_DAILY_LIMIT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 5, cfg.Tutor.DailyLimit, "env wins over file")
	assert.Equal(t, 20*time.Second, cfg.Tutor.RecordingCap)
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 800, cfg.Tutor.MinAudioBytes, "unset keys keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Warsaw", loc.String())
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	cfg := Defaults()
	err := Decode(strings.NewReader("prot: 1234\n"), cfg)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Tutor.DailyLimit = 0
	cfg.Tutor.DefaultMode = "lecture"
	cfg.Tutor.Timezone = "Mars/Olympus"
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"GG_DAILY_LIMIT", "GG_DEFAULT_MODE", "GG_TIMEZONE", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GG_TEST_BOOL", "yes")
	t.Setenv("GG_TEST_INT", "nope")
	t.Setenv("GG_TEST_DUR", "90s")
	t.Setenv("GG_TEST_LIST", " http://a.test , ,http://b.test ")

	assert.True(t, getEnvBool("GG_TEST_BOOL", false))
	assert.Equal(t, 7, getEnvInt("GG_TEST_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("GG_TEST_DUR", time.Second))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, getEnvList("GG_TEST_LIST", nil))
}

func TestIsDevelopment(t *testing.T) {
	clearEnv(t)
	cfg := Defaults()
	cfg.FrontendURL = "https://gadugator.app"
	assert.False(t, cfg.IsDevelopment())

	t.Setenv("APP_ENV", "development")
	assert.True(t, cfg.IsDevelopment())
}
