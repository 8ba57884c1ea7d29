// Package assistant wraps an OpenAI-compatible chat completion API as the
// reply generation collaborator. The endpoint is configurable so DeepSeek or
// any compatible provider can sit behind the same client.
//
// The package owns prompt assembly only: the persona prompt is personalized
// with the user's display name and the current date, a per-user isolation
// clause is appended, and the recent transcript is replayed with its stored
// roles. Quota accounting never reaches this layer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

// ErrNoReply is returned when the backend answers without any choice.
var ErrNoReply = errors.New("assistant returned no choices")

// Config holds the generation backend settings.
type Config struct {
	// APIKey authenticates against the completion endpoint.
	APIKey string
	// BaseURL overrides the OpenAI endpoint (e.g. https://api.deepseek.com).
	// Empty keeps the client default.
	BaseURL string
	// Model is the completion model name.
	Model string
	// SystemPrompt is the persona template. Occurrences of {user_name} and
	// {date} are substituted per request.
	SystemPrompt string
}

// Client calls the completion API. Safe for concurrent use.
type Client struct {
	cfg Config

	// createFn is a seam for tests; defaults to the real API call.
	createFn func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	api := openai.NewClientWithConfig(oc)
	return &Client{
		cfg:      cfg,
		createFn: api.CreateChatCompletion,
		now:      time.Now,
	}
}

// Reply generates the assistant answer for prompt given the recent history.
// history must be chronological and must not already contain prompt.
func (c *Client) Reply(ctx context.Context, userID, displayName string, history []domain.Message, prompt string) (string, error) {
	resp, err := c.createFn(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    c.buildMessages(userID, displayName, history, prompt),
		Temperature: 0.7,
		// Per-user isolation at the API level as well.
		User: "user_" + userID,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoReply
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages assembles system prompt + history + new prompt.
func (c *Client) buildMessages(userID, displayName string, history []domain.Message, prompt string) []openai.ChatCompletionMessage {
	system := c.cfg.SystemPrompt
	system = strings.ReplaceAll(system, "{user_name}", displayName)
	system = strings.ReplaceAll(system, "{date}", c.now().Format("02.01.2006"))
	system += fmt.Sprintf(
		"\n\n[SESSION CONTEXT: user id %s. This is a private dialogue with %s only. Disregard conversations with anyone else.]",
		userID, displayName,
	)

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}
