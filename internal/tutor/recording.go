package tutor

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/convlog"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
)

// recording buffers one utterance.
type recording struct {
	buf   bytes.Buffer
	timer *time.Timer
}

// StartRecording begins buffering audio. After the recording cap the
// recording is force-stopped and onForceStop receives the buffered audio.
func (s *Session) StartRecording(onForceStop func(audio []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busyLocked() {
		return ErrBusy
	}
	s.lastActive = s.opts.Clock()
	rec := &recording{}
	rec.timer = time.AfterFunc(s.opts.RecordingCap, func() {
		audio, ok := s.stopRecording(rec)
		if !ok {
			return
		}
		s.logger.Info("Recording force-stopped", "cap", s.opts.RecordingCap, "bytes", len(audio))
		if onForceStop != nil {
			onForceStop(audio)
		}
	})
	s.rec = rec
	return nil
}

// AppendAudio adds a chunk to the active recording. Chunks past the size
// ceiling are dropped and reported as ErrAudioTooLarge.
func (s *Session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return ErrNotRecording
	}
	if s.rec.buf.Len()+len(chunk) > s.opts.MaxAudioBytes {
		return ErrAudioTooLarge
	}
	s.rec.buf.Write(chunk)
	return nil
}

// StopRecording ends the active recording and returns its audio.
func (s *Session) StopRecording() ([]byte, error) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNotRecording
	}
	audio, ok := s.stopRecording(rec)
	if !ok {
		return nil, ErrNotRecording
	}
	return audio, nil
}

// stopRecording detaches rec if it is still the active recording.
func (s *Session) stopRecording(rec *recording) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != rec {
		return nil, false
	}
	rec.timer.Stop()
	s.rec = nil
	s.lastActive = s.opts.Clock()
	return bytes.Clone(rec.buf.Bytes()), true
}

// ValidateAudio checks the clip size limits.
func (s *Session) ValidateAudio(size int) error {
	if size < s.opts.MinAudioBytes {
		return ErrAudioTooShort
	}
	if size > s.opts.MaxAudioBytes {
		return ErrAudioTooLarge
	}
	return nil
}

// Transcribe converts a recorded clip into text. It is rejected while a
// request, recording or another transcription is pending. An empty
// transcript fails with ErrNoSpeech.
func (s *Session) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if err := s.ValidateAudio(len(audio)); err != nil {
		return "", err
	}
	if s.deps.Transcriber == nil {
		return "", provider.ErrNotConfigured
	}

	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.transcribing = true
	s.lastActive = s.opts.Clock()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.transcribing = false
		s.mu.Unlock()
	}()

	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, bytes.NewReader(audio), filename)
	s.deps.Metrics.RecordProviderCall(ctx, observe.ServiceTranscription, start, err, errorKind(err))
	if err != nil {
		s.logger.Warn("Transcription failed", "error", err)
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	s.event(convlog.Event{Direction: "inbound", EventType: convlog.EventTranscription, ContentRaw: text})
	return text, nil
}
