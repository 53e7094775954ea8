// Package config provides application configuration.
//
// Values are resolved in order: built-in defaults, the optional YAML file
// named by GG_CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// Embedded zone database so GG_TIMEZONE works on minimal images.
	_ "time/tzdata"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `yaml:"port"`
	FrontendURL    string   `yaml:"frontend_url"`
	DBPath         string   `yaml:"db_path"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	OpenAI          OpenAIConfig          `yaml:"openai"`
	Tutor           TutorConfig           `yaml:"tutor"`
	Session         SessionConfig         `yaml:"session"`
	Timeout         TimeoutConfig         `yaml:"timeout"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// OpenAIConfig configures the remote completion, transcription and speech
// services. The API key is only read from the environment.
type OpenAIConfig struct {
	APIKey          string        `yaml:"-"`
	BaseURL         string        `yaml:"base_url"`
	ChatModel       string        `yaml:"chat_model"`
	TranscribeModel string        `yaml:"transcribe_model"`
	SpeechModel     string        `yaml:"speech_model"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// TutorConfig tunes conversation sessions.
type TutorConfig struct {
	DailyLimit    int           `yaml:"daily_limit"`
	Temperature   float64       `yaml:"temperature"`
	DefaultMode   string        `yaml:"default_mode"`
	MinAudioBytes int           `yaml:"min_audio_bytes"`
	MaxAudioBytes int           `yaml:"max_audio_bytes"`
	RecordingCap  time.Duration `yaml:"recording_cap"`
	SpeechChars   int           `yaml:"speech_chars"`
	// Timezone names the zone whose calendar day bounds the daily limit.
	// Empty means the server's local zone.
	Timezone string `yaml:"timezone"`
}

// SessionConfig controls in-memory session lifetime and stored state
// retention.
type SessionConfig struct {
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	DeviceRetention time.Duration `yaml:"device_retention"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// TimeoutConfig holds operation timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration `yaml:"health_check"`
	StoreOp     time.Duration `yaml:"store_op"`
	Shutdown    time.Duration `yaml:"shutdown"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		DBPath:         "./data/gadugator.db",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		OpenAI: OpenAIConfig{
			ChatModel:       "gpt-4o-mini",
			TranscribeModel: "gpt-4o-mini-transcribe",
			SpeechModel:     "gpt-4o-mini-tts",
			RequestTimeout:  60 * time.Second,
		},
		Tutor: TutorConfig{
			DailyLimit:    15,
			Temperature:   0.7,
			DefaultMode:   string(domain.ModeTutor),
			MinAudioBytes: 800,
			MaxAudioBytes: 25 << 20,
			RecordingCap:  30 * time.Second,
			SpeechChars:   900,
		},
		Session: SessionConfig{
			IdleTTL:         30 * time.Minute,
			DeviceRetention: 90 * 24 * time.Hour,
			SweepInterval:   5 * time.Minute,
		},
		Timeout: TimeoutConfig{
			HealthCheck: 5 * time.Second,
			StoreOp:     2 * time.Second,
			Shutdown:    10 * time.Second,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       false,
			Dir:           "./data/logs/conversations",
			GlobalEnabled: false,
			GlobalPath:    "./data/logs/conversations/all.ndjson",
			QueueSize:     1000,
		},
	}
}

// Load reads the optional YAML file and environment variables over the
// defaults and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("GG_CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := Decode(f, cfg); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = getEnvList("GG_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.OpenAI.APIKey = getEnv("GG_OPENAI_API_KEY", "")
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	}
	cfg.OpenAI.BaseURL = getEnv("GG_OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.ChatModel = getEnv("GG_CHAT_MODEL", cfg.OpenAI.ChatModel)
	cfg.OpenAI.TranscribeModel = getEnv("GG_TRANSCRIBE_MODEL", cfg.OpenAI.TranscribeModel)
	cfg.OpenAI.SpeechModel = getEnv("GG_SPEECH_MODEL", cfg.OpenAI.SpeechModel)
	cfg.OpenAI.RequestTimeout = getEnvDuration("GG_OPENAI_TIMEOUT", cfg.OpenAI.RequestTimeout)

	cfg.Tutor.DailyLimit = getEnvInt("GG_DAILY_LIMIT", cfg.Tutor.DailyLimit)
	cfg.Tutor.Temperature = getEnvFloat("GG_TEMPERATURE", cfg.Tutor.Temperature)
	cfg.Tutor.DefaultMode = getEnv("GG_DEFAULT_MODE", cfg.Tutor.DefaultMode)
	cfg.Tutor.MinAudioBytes = getEnvInt("GG_MIN_AUDIO_BYTES", cfg.Tutor.MinAudioBytes)
	cfg.Tutor.MaxAudioBytes = getEnvInt("GG_MAX_AUDIO_BYTES", cfg.Tutor.MaxAudioBytes)
	cfg.Tutor.RecordingCap = getEnvDuration("GG_RECORDING_CAP", cfg.Tutor.RecordingCap)
	cfg.Tutor.SpeechChars = getEnvInt("GG_SPEECH_CHARS", cfg.Tutor.SpeechChars)
	cfg.Tutor.Timezone = getEnv("GG_TIMEZONE", cfg.Tutor.Timezone)

	cfg.Session.IdleTTL = getEnvDuration("GG_SESSION_IDLE_TTL", cfg.Session.IdleTTL)
	cfg.Session.DeviceRetention = getEnvDuration("GG_DEVICE_RETENTION", cfg.Session.DeviceRetention)
	cfg.Session.SweepInterval = getEnvDuration("GG_SWEEP_INTERVAL", cfg.Session.SweepInterval)

	cfg.Timeout.HealthCheck = getEnvDuration("GG_HEALTH_CHECK_TIMEOUT", cfg.Timeout.HealthCheck)
	cfg.Timeout.StoreOp = getEnvDuration("GG_STORE_OP_TIMEOUT", cfg.Timeout.StoreOp)
	cfg.Timeout.Shutdown = getEnvDuration("GG_SHUTDOWN_TIMEOUT", cfg.Timeout.Shutdown)

	cfg.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", cfg.ConversationLog.Enabled)
	cfg.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", cfg.ConversationLog.Dir)
	cfg.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", cfg.ConversationLog.GlobalEnabled)
	cfg.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", cfg.ConversationLog.GlobalPath)
	cfg.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", cfg.ConversationLog.QueueSize)
}

// Validate checks that all required configuration fields are set. It
// returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Tutor.DailyLimit <= 0 {
		errs = append(errs, errors.New("GG_DAILY_LIMIT must be > 0"))
	}
	if c.Tutor.Temperature < 0 || c.Tutor.Temperature > 2 {
		errs = append(errs, fmt.Errorf("GG_TEMPERATURE %v out of range [0, 2]", c.Tutor.Temperature))
	}
	if m := domain.Mode(c.Tutor.DefaultMode); m != domain.ModeTutor && m != domain.ModeChat {
		errs = append(errs, fmt.Errorf("GG_DEFAULT_MODE %q must be tutor or chat", c.Tutor.DefaultMode))
	}
	if c.Tutor.MinAudioBytes <= 0 || c.Tutor.MaxAudioBytes < c.Tutor.MinAudioBytes {
		errs = append(errs, errors.New("audio limits must satisfy 0 < GG_MIN_AUDIO_BYTES <= GG_MAX_AUDIO_BYTES"))
	}
	if c.Tutor.RecordingCap <= 0 {
		errs = append(errs, errors.New("GG_RECORDING_CAP must be > 0"))
	}
	if c.Tutor.SpeechChars <= 0 {
		errs = append(errs, errors.New("GG_SPEECH_CHARS must be > 0"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("GG_SWEEP_INTERVAL must be > 0"))
	}
	if c.Session.IdleTTL < 0 || c.Session.DeviceRetention < 0 {
		errs = append(errs, errors.New("session durations cannot be negative"))
	}
	if c.ConversationLog.Dir == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_DIR cannot be empty"))
	}
	if c.ConversationLog.GlobalPath == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty"))
	}
	if c.ConversationLog.QueueSize <= 0 {
		errs = append(errs, errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIConfigured reports whether an API key is available.
func (c *Config) AIConfigured() bool {
	return c.OpenAI.APIKey != ""
}

// Location returns the zone used for the daily limit.
func (c *Config) Location() (*time.Location, error) {
	if c.Tutor.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Tutor.Timezone)
	if err != nil {
		return nil, fmt.Errorf("GG_TIMEZONE %q: %w", c.Tutor.Timezone, err)
	}
	return loc, nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
