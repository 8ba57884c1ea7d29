package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

func testClient(reply func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)) *Client {
	c := New(Config{
		APIKey:       "test-key",
		Model:        "test-model",
		SystemPrompt: "You are Alina talking with {user_name}. Today is {date}.",
	})
	c.createFn = func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return reply(req)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_BaseURLOverride(t *testing.T) {
	c := New(Config{APIKey: "k", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"})
	if c.createFn == nil || c.now == nil {
		t.Fatalf("seams not initialized")
	}
	if c.cfg.BaseURL != "https://api.deepseek.com" {
		t.Fatalf("base URL not kept: %+v", c.cfg)
	}
}

func TestReply_BuildsPersonalizedRequest(t *testing.T) {
	var captured openai.ChatCompletionRequest
	c := testClient(func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		captured = req
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "hi Sam"}},
			},
		}, nil
	})

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hey"},
	}
	got, err := c.Reply(context.Background(), "u1", "Sam", history, "how are you?")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "hi Sam" {
		t.Fatalf("unexpected reply %q", got)
	}

	if captured.Model != "test-model" || captured.User != "user_u1" {
		t.Fatalf("unexpected request meta: model=%q user=%q", captured.Model, captured.User)
	}

	msgs := captured.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected system+2 history+prompt, got %d messages", len(msgs))
	}
	system := msgs[0]
	if system.Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first message must be the system prompt: %+v", system)
	}
	if !strings.Contains(system.Content, "Sam") || strings.Contains(system.Content, "{user_name}") {
		t.Fatalf("display name not substituted: %q", system.Content)
	}
	if !strings.Contains(system.Content, "01.03.2026") || strings.Contains(system.Content, "{date}") {
		t.Fatalf("date not substituted: %q", system.Content)
	}
	if !strings.Contains(system.Content, "user id u1") {
		t.Fatalf("isolation clause missing: %q", system.Content)
	}

	if msgs[1].Role != openai.ChatMessageRoleUser || msgs[1].Content != "hello" {
		t.Fatalf("history[0] mangled: %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant || msgs[2].Content != "hey" {
		t.Fatalf("history[1] mangled: %+v", msgs[2])
	}
	if msgs[3].Role != openai.ChatMessageRoleUser || msgs[3].Content != "how are you?" {
		t.Fatalf("prompt not appended last: %+v", msgs[3])
	}
}

func TestReply_BackendError(t *testing.T) {
	boom := errors.New("upstream 500")
	c := testClient(func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, boom
	})

	_, err := c.Reply(context.Background(), "u1", "Sam", nil, "hi")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestReply_NoChoices(t *testing.T) {
	c := testClient(func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, nil
	})

	_, err := c.Reply(context.Background(), "u1", "Sam", nil, "hi")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}
