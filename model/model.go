package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role values used in Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized model input produced by pipeline stages.
type Request struct {
	Instructions string    `json:"instructions"` // System prompt
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// NewRequest builds a single-turn request.
func NewRequest(instructions, prompt string) Request {
	return Request{
		Instructions: instructions,
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
	}
}

// LastUserText returns the content of the last user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface pipeline stages need to drive generation.
//
// Generate returns a response channel and an error channel. Both are closed
// when generation ends. Streaming implementations emit Partial chunks before
// the final, complete response.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrEmptyResponse is returned by Collect when a model finished without
// producing any text.
var ErrEmptyResponse = errors.New("model returned no content")

// Collect drains a Generate call and returns the complete text. The final
// (non-partial) response wins; without one, partial chunks are concatenated.
func Collect(ctx context.Context, m Model, req Request) (string, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		chunks   strings.Builder
		final    string
		hasFinal bool
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				chunks.WriteString(r.Text)
				continue
			}
			final, hasFinal = r.Text, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", fmt.Errorf("%s generate: %w", m.Info().Provider, err)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	text := chunks.String()
	if hasFinal {
		text = final
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
