// Package tutor orchestrates one conversation session per device: sending
// messages through the quota gate and completion service, recording and
// transcribing speech, and exclusive reply playback.
package tutor

import "errors"

var (
	// ErrEmptyMessage is returned when the message is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when a request, recording or transcription is
	// already pending. The action is dropped, not queued.
	ErrBusy = errors.New("session is busy")

	// ErrNotRecording is returned when no recording is in progress.
	ErrNotRecording = errors.New("not recording")

	// ErrAudioTooShort is returned for clips under the minimum size.
	ErrAudioTooShort = errors.New("recording is too short, try saying something longer")

	// ErrAudioTooLarge is returned for clips over the configured ceiling.
	ErrAudioTooLarge = errors.New("recording is too large")

	// ErrNoSpeech is returned when transcription produced no text.
	ErrNoSpeech = errors.New("could not recognize speech, try saying something longer")

	// ErrAborted is returned when playback was superseded or stopped. Callers
	// treat it as a silent outcome.
	ErrAborted = errors.New("playback aborted")
)
