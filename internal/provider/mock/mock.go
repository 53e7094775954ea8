// Package mock provides test doubles for the provider interfaces.
//
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
)

// Completer is a mock provider.Completer.
type Completer struct {
	mu sync.Mutex

	// Response is returned by Complete.
	Response string
	// Err, if non-nil, is returned instead of Response.
	Err error
	// Block, if non-nil, is waited on (or ctx) before returning.
	Block chan struct{}

	// Calls records every request in order.
	Calls []provider.CompletionRequest
}

// Complete implements provider.Completer.
func (m *Completer) Complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// CallCount returns the number of Complete calls.
func (m *Completer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request.
func (m *Completer) LastCall() provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return provider.CompletionRequest{}
	}
	return m.Calls[len(m.Calls)-1]
}

// Transcriber is a mock provider.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string
	// Err, if non-nil, is returned instead of Text.
	Err error

	// Received records the audio of every call.
	Received [][]byte
}

// Transcribe implements provider.Transcriber.
func (m *Transcriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Received = append(m.Received, data)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

// SynthesizeCall records one Synthesize invocation.
type SynthesizeCall struct {
	Text  string
	Voice domain.Voice
}

// Synthesizer is a mock provider.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is streamed back by Synthesize.
	Audio []byte
	// Err, if non-nil, is returned instead of audio.
	Err error
	// Block, if non-nil, is waited on (or ctx) before returning.
	Block chan struct{}

	// Calls records every invocation in order.
	Calls []SynthesizeCall
}

// Synthesize implements provider.Synthesizer.
func (m *Synthesizer) Synthesize(ctx context.Context, text string, voice domain.Voice) (io.ReadCloser, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, SynthesizeCall{Text: text, Voice: voice})
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(bytes.NewReader(m.Audio)), nil
}

// CallCount returns the number of Synthesize calls.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent invocation.
func (m *Synthesizer) LastCall() SynthesizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return SynthesizeCall{}
	}
	return m.Calls[len(m.Calls)-1]
}
