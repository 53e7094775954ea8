package tutor

import (
	"log/slog"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/convlog"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
	"github.com/gustawsonb-collab/gadugator/internal/quota"
)

// Defaults for Options.
const (
	DefaultTemperature   = 0.7
	DefaultMinAudioBytes = 800
	DefaultMaxAudioBytes = 25 << 20
	DefaultRecordingCap  = 30 * time.Second
	DefaultSpeechChars   = 900
)

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Completer   provider.Completer
	Transcriber provider.Transcriber
	Synthesizer provider.Synthesizer
	Metrics     *observe.Metrics
	ConvLog     convlog.Logger
	Logger      *slog.Logger
}

// Options tune session behaviour.
type Options struct {
	Mode          domain.Mode
	Temperature   float64
	DailyLimit    int
	MinAudioBytes int
	MaxAudioBytes int
	RecordingCap  time.Duration
	SpeechChars   int
	Clock         func() time.Time
	Location      *time.Location
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = domain.ModeTutor
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.DailyLimit <= 0 {
		o.DailyLimit = quota.DefaultDailyLimit
	}
	if o.MinAudioBytes <= 0 {
		o.MinAudioBytes = DefaultMinAudioBytes
	}
	if o.MaxAudioBytes <= 0 {
		o.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if o.RecordingCap <= 0 {
		o.RecordingCap = DefaultRecordingCap
	}
	if o.SpeechChars <= 0 {
		o.SpeechChars = DefaultSpeechChars
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

func (d Deps) withDefaults() Deps {
	if d.ConvLog == nil {
		d.ConvLog = convlog.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}
