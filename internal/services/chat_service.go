// Package services – ChatService
//
// This file implements the conversation orchestrator: it gates every incoming
// message on the quota verdict, assembles recent transcript context, calls
// the generation backend, and persists the exchange. All entitlement rules
// live in EntitlementService; all payment rules live in PaymentService — this
// layer is deliberately thin I/O plumbing around them.
//
// Ordering matters: the quota unit is consumed before the generation call so
// a slow or failed backend can never be exploited to send unlimited messages.
// A generation failure after the debit is a pure loss to the provider; the
// unit is not refunded.
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/repo"
)

// Generator produces an assistant reply from the recent transcript and a new
// user prompt. It is an opaque external collaborator with a failure mode; it
// must never be called while holding any ledger state.
type Generator interface {
	Reply(ctx context.Context, userID, displayName string, history []domain.Message, prompt string) (string, error)
}

// QuotaGate is the slice of the entitlement service the orchestrator needs:
// a single verdict whose true result has already spent the resource.
type QuotaGate interface {
	CanSendMessage(ctx context.Context, userID string) (bool, error)
}

// ChatService coordinates quota gating, transcript persistence, and reply
// generation for one incoming message.
type ChatService struct {
	DB    *gorm.DB
	Quota QuotaGate
	Gen   Generator

	// HistoryLimit caps how many recent messages feed the generator.
	HistoryLimit int
	// MaxPromptRunes caps accepted prompt length.
	MaxPromptRunes int
}

// Answer gates, persists, and answers one user message.
//
// Flow: validate prompt → consume quota (ErrQuotaExhausted on deny) → persist
// the user message → fetch recent context → generate → persist the assistant
// reply. When generation fails the user message stays in the transcript, the
// spent unit stays spent, and ErrGenerationFailed is returned for the
// transport to translate into a generic apology.
func (s *ChatService) Answer(ctx context.Context, userID, displayName, prompt string) (*domain.Message, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	allowed, err := s.Quota.CanSendMessage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrQuotaExhausted
	}

	// Context is read before appending so the new prompt is not duplicated
	// into the history the generator sees.
	history, err := repo.RecentHistory(ctx, s.DB, userID, s.historyLimit())
	if err != nil {
		return nil, err
	}

	if _, err := repo.AppendMessage(ctx, s.DB, userID, domain.RoleUser, prompt); err != nil {
		return nil, err
	}

	reply, err := s.Gen.Reply(ctx, userID, displayName, history, prompt)
	if err != nil {
		span.SetAttributes(attribute.Bool("generation.failed", true))
		return nil, ErrGenerationFailed
	}

	return repo.AppendMessage(ctx, s.DB, userID, domain.RoleAssistant, reply)
}

// ListPage returns a paginated transcript slice for userID plus the total.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMessages(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// ClearHistory wipes the user's transcript. Entitlement state is untouched.
func (s *ChatService) ClearHistory(ctx context.Context, userID string) error {
	_, err := repo.ClearHistory(ctx, s.DB, userID)
	return err
}

func (s *ChatService) historyLimit() int {
	if s.HistoryLimit > 0 {
		return s.HistoryLimit
	}
	return 10
}
