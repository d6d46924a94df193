// Package revise applies spoken edit commands to a raw dictation transcript
// with a single text-model call.
package revise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// EditorPrompt is the system prompt describing the editing rule.
const EditorPrompt = "You are an editor. Apply the user's command blocks to the raw " +
	"transcript and return the revised text only. The raw transcript " +
	"includes inline markers like 'command' and 'end command'. " +
	"Remove all command markers and command-only content from the output. " +
	"Preserve dictation content and punctuation unless a command changes it."

var (
	// ErrMissingCredential means no API key is configured.
	ErrMissingCredential = errors.New("OPENAI_API_KEY is missing")

	// ErrNoText means the raw text is empty after trimming.
	ErrNoText = errors.New("No text to revise")
)

// Completer is the subset of *openai.Client the service needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds configuration for the revision service.
type Config struct {
	APIKey  string
	Model   string // e.g., "gpt-4.1-mini"
	BaseURL string // optional, e.g. for a proxy
}

// Service issues revision calls. It holds no per-request state.
type Service struct {
	apiKey string
	model  string
	client Completer
}

// New creates a Service backed by the OpenAI API.
func New(cfg Config) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewWithClient(cfg, openai.NewClientWithConfig(clientCfg))
}

// NewWithClient creates a Service using the given completer.
func NewWithClient(cfg Config, client Completer) *Service {
	model := cfg.Model
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &Service{
		apiKey: cfg.APIKey,
		model:  model,
		client: client,
	}
}

// Model returns the configured revision model.
func (s *Service) Model() string {
	return s.model
}

// request is the user message payload.
type request struct {
	RawText  string   `json:"raw_text"`
	Commands []string `json:"commands"`
}

// Revise applies commands to rawText. Validation failures return before any
// external call; otherwise exactly one call is made and its text returned
// unmodified. There is no retry.
func (s *Service) Revise(ctx context.Context, rawText string, commands []string) (string, error) {
	if s.apiKey == "" {
		return "", ErrMissingCredential
	}
	if strings.TrimSpace(rawText) == "" {
		return "", ErrNoText
	}
	if commands == nil {
		commands = []string{}
	}

	payload, err := json.Marshal(request{RawText: rawText, Commands: commands})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: EditorPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("Revision failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
