package tutor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
)

// chunkSize is the size of audio chunks handed to the sink.
const chunkSize = 16 << 10

// Player gives a session exclusive speech playback: starting a new
// utterance cancels the one in progress.
type Player struct {
	synth    provider.Synthesizer
	maxChars int
	metrics  *observe.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// NewPlayer returns a Player that truncates input to maxChars runes.
func NewPlayer(synth provider.Synthesizer, maxChars int) *Player {
	if maxChars <= 0 {
		maxChars = DefaultSpeechChars
	}
	return &Player{synth: synth, maxChars: maxChars}
}

// PrepareText trims text and truncates it to max runes.
func PrepareText(text string, max int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

// Play synthesizes text with voice and streams the audio to sink. Any
// previous playback is cancelled first. When this playback is itself
// superseded or stopped, Play returns ErrAborted.
func (p *Player) Play(ctx context.Context, text string, voice domain.Voice, sink func([]byte) error) error {
	text = PrepareText(text, p.maxChars)
	if text == "" {
		return nil
	}
	if p.synth == nil {
		return provider.ErrNotConfigured
	}
	if !voice.Valid() {
		voice = domain.DefaultVoice
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	start := time.Now()
	stream, err := p.synth.Synthesize(ctx, text, voice)
	if err != nil {
		if ctx.Err() != nil {
			return ErrAborted
		}
		p.metrics.RecordProviderCall(ctx, observe.ServiceSpeech, start, err, errorKind(err))
		return err
	}
	defer stream.Close()

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return ErrAborted
		}
		n, rerr := stream.Read(buf)
		if n > 0 {
			if err := sink(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			p.metrics.RecordProviderCall(ctx, observe.ServiceSpeech, start, nil, "")
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ErrAborted
			}
			return rerr
		}
	}
}

// Stop cancels the playback in progress, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Playing reports whether a playback is in progress.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Speak plays text with the device's voice settings. It is a no-op when voice
// is disabled.
func (s *Session) Speak(ctx context.Context, text string, sink func([]byte) error) error {
	settings := s.prefs.Settings()
	if !settings.VoiceEnabled {
		return nil
	}
	return s.player.Play(ctx, text, settings.Voice, sink)
}

// SpeakWith plays text with an explicit voice regardless of the toggle.
func (s *Session) SpeakWith(ctx context.Context, text string, voice domain.Voice, sink func([]byte) error) error {
	return s.player.Play(ctx, text, voice, sink)
}

// StopSpeech cancels playback in progress.
func (s *Session) StopSpeech() {
	s.player.Stop()
}

func newPlayer(synth provider.Synthesizer, maxChars int, metrics *observe.Metrics) *Player {
	p := NewPlayer(synth, maxChars)
	p.metrics = metrics
	return p
}
