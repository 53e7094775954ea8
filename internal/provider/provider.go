// Package provider defines the remote services the tutor depends on: text
// completion, speech-to-text and speech synthesis.
//
// Implementations make exactly one attempt per call. Callers convert failures
// into visible messages and never retry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
)

// Message is one conversation turn sent to the completion service.
type Message struct {
	Role    domain.Role
	Content string
}

// CompletionRequest is the input to Completer.Complete.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	// JSON asks the service for a JSON object response.
	JSON bool
}

// Completer returns raw completion text for a conversation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Transcriber converts a recorded utterance into text. The result may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer streams spoken audio (mp3) for text. The caller closes the
// returned stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice domain.Voice) (io.ReadCloser, error)
}

// APIError is a failure reported by a remote service.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %d %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("missing API key: set GG_OPENAI_API_KEY (or OPENAI_API_KEY as a fallback)")

// QuotaMessage is shown when the upstream account has no remaining quota.
const QuotaMessage = "OpenAI API: 429 (no available quota/limit). Open Billing on platform.openai.com, add a payment method or credits and make sure the project has an active limit."

// IsQuotaError reports whether err is a 429 or mentions quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

// StatusCode returns the upstream HTTP status of err, or fallback.
func StatusCode(err error, fallback int) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return apiErr.StatusCode
	}
	return fallback
}

// MessagesFromTurns converts transcript turns into completion messages.
func MessagesFromTurns(turns []domain.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, Message{Role: t.Role, Content: t.Text})
	}
	return out
}
