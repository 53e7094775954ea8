// Package openai implements the provider interfaces with the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
)

// Default models and instructions.
const (
	DefaultChatModel       = "gpt-4o-mini"
	DefaultTranscribeModel = "gpt-4o-mini-transcribe"
	DefaultSpeechModel     = "gpt-4o-mini-tts"

	TranscribeLanguage = "en"
	TranscribePrompt   = "This is an English learner speaking. Keep punctuation. Prefer common English words."
	SpeechInstructions = "Speak clearly, friendly, natural. Moderate pace. Slightly warm tutor tone. Avoid robotic cadence."
)

// Client implements provider.Completer, provider.Transcriber and
// provider.Synthesizer.
type Client struct {
	client          oai.Client
	chatModel       string
	transcribeModel string
	speechModel     string
}

// config holds optional configuration for the client.
type config struct {
	baseURL         string
	timeout         time.Duration
	chatModel       string
	transcribeModel string
	speechModel     string
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithModels overrides the chat, transcription and speech models. Empty
// values keep the defaults.
func WithModels(chat, transcribe, speech string) Option {
	return func(c *config) {
		if chat != "" {
			c.chatModel = chat
		}
		if transcribe != "" {
			c.transcribeModel = transcribe
		}
		if speech != "" {
			c.speechModel = speech
		}
	}
}

// New constructs a Client. It fails with provider.ErrNotConfigured when
// apiKey is empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, provider.ErrNotConfigured
	}

	cfg := &config{
		chatModel:       DefaultChatModel,
		transcribeModel: DefaultTranscribeModel,
		speechModel:     DefaultSpeechModel,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Every call is a single attempt.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{
		client:          oai.NewClient(reqOpts...),
		chatModel:       cfg.chatModel,
		transcribeModel: cfg.transcribeModel,
		speechModel:     cfg.speechModel,
	}, nil
}

// Complete implements provider.Completer.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return "", wrapError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", &provider.APIError{Service: "chat", Message: "empty choices in response"}
	}
	return resp.Choices[0].Message.Content, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (c *Client) buildParams(req provider.CompletionRequest) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleUser {
			messages = append(messages, oai.UserMessage(m.Content))
		} else {
			messages = append(messages, oai.AssistantMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.chatModel),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.JSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Transcribe implements provider.Transcriber.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "speech.webm"
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model:    oai.AudioModel(c.transcribeModel),
		File:     oai.File(audio, filename, "audio/webm"),
		Language: param.NewOpt(TranscribeLanguage),
		Prompt:   param.NewOpt(TranscribePrompt),
	})
	if err != nil {
		return "", wrapError("transcription", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize implements provider.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text string, voice domain.Voice) (io.ReadCloser, error) {
	resp, err := c.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Instructions:   param.NewOpt(SpeechInstructions),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, wrapError("speech", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &provider.APIError{
			Service:    "speech",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return resp.Body, nil
}

// wrapError converts SDK errors into provider.APIError, keeping context
// cancellation intact.
func wrapError(service string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", service, err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &provider.APIError{
			Service:    service,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return &provider.APIError{Service: service, Message: err.Error(), Err: err}
}
