// Chat HTTP handlers.
//
// This file exposes the conversational endpoints:
//   - POST   /messages   (send a message, receive the assistant reply)
//   - GET    /messages   (list the transcript, paginated)
//   - DELETE /history    (wipe the transcript; entitlements untouched)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results (including the quota verdict) into HTTP
// responses. A quota denial is not an error — it returns 402 with the
// purchase catalog so the client can render buy options.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/http/middleware"
	"github.com/tbourn/go-chat-billing/internal/services"
	"github.com/tbourn/go-chat-billing/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines conversation operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the context.
type ChatService interface {
	// Answer gates on quota, generates, and persists one exchange.
	Answer(ctx context.Context, userID, displayName, prompt string) (*domain.Message, error)
	// ListPage returns a page of the user's transcript and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Message, int64, error)
	// ClearHistory wipes the user's transcript.
	ClearHistory(ctx context.Context, userID string) error
}

// EntitlementService defines the status surface consumed by HTTP handlers.
type EntitlementService interface {
	// GetStatus reports the user's subscription/limit/credit snapshot.
	GetStatus(ctx context.Context, userID string) (services.Status, error)
}

// PaymentService defines purchase operations consumed by HTTP handlers.
type PaymentService interface {
	// CreateSubscriptionIntent mints a pending subscription intent.
	CreateSubscriptionIntent(ctx context.Context, userID string) (*domain.PaymentIntent, error)
	// CreateMessagePackIntent mints a pending intent for a catalog pack.
	CreateMessagePackIntent(ctx context.Context, userID string, packCount int) (*domain.PaymentIntent, error)
	// Reconcile converts a completion callback into an entitlement grant.
	Reconcile(ctx context.Context, token, payerUserID string) (*services.Grant, error)
	// PackFor resolves a catalog pack by credit count.
	PackFor(count int) (services.CreditPack, error)
}

//
// Handler wiring
//

// Catalog is the purchase menu echoed on status and quota-denial responses.
type Catalog struct {
	SubscriptionDays  int                   `json:"subscription_days"`
	SubscriptionPrice int64                 `json:"subscription_price"`
	Packs             []services.CreditPack `json:"packs"`
}

// Handlers groups the HTTP endpoints of the gateway.
type Handlers struct {
	chatSvc ChatService
	entSvc  EntitlementService
	paySvc  PaymentService
	catalog Catalog
}

// New constructs a Handlers instance bound to the given services.
func New(chatSvc ChatService, entSvc EntitlementService, paySvc PaymentService, catalog Catalog) *Handlers {
	return &Handlers{chatSvc: chatSvc, entSvc: entSvc, paySvc: paySvc, catalog: catalog}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header (tests use
// it), and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// displayName extracts an optional presentation name for prompt templating.
func displayName(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("X-User-Name")); h != "" {
		return h
	}
	return "friend"
}

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
type PostMessageRequest struct {
	// Content is the user prompt. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Hi! How was your day?"`
}

// PostMessageResponse is the JSON envelope for a generated assistant reply.
type PostMessageResponse struct {
	// Message is the assistant reply created as a result of the request.
	Message *domain.Message `json:"message"`
}

// QuotaExhaustedResponse extends the error envelope with the purchase menu.
type QuotaExhaustedResponse struct {
	ErrorResponse
	Catalog Catalog `json:"catalog"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse contains a page of the transcript plus metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text: CRLF/CR to LF, collapse blank-line
// runs, trim surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// PostMessage handles POST /messages: quota gate, generation, persistence.
//
// Responses:
//   - 201 with the assistant message
//   - 400 on empty/too-long content
//   - 402 quota_exhausted with the purchase catalog
//   - 502 generation_failed (the quota unit is already spent and stays spent)
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is required")
		return
	}

	uid := userID(c)
	msg, err := h.chatSvc.Answer(c.Request.Context(), uid, displayName(c), sanitizeContent(req.Content))
	switch {
	case err == nil:
		ok(c, http.StatusCreated, PostMessageResponse{Message: msg})
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is empty")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is too long")
	case errors.Is(err, services.ErrQuotaExhausted):
		middleware.CountQuotaDenial()
		c.AbortWithStatusJSON(http.StatusPaymentRequired, QuotaExhaustedResponse{
			ErrorResponse: ErrorResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeQuotaExhausted,
				Message:   "daily limit reached — subscribe or buy extra messages to continue",
			},
			Catalog: h.catalog,
		})
	case errors.Is(err, services.ErrGenerationFailed):
		fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, "sorry, something went wrong — please try again later")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to process message")
	}
}

// ListMessages handles GET /messages with page/page_size query params.
func (h *Handlers) ListMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.chatSvc.ListPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list messages")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ClearHistory handles DELETE /history: wipes the transcript only.
func (h *Handlers) ClearHistory(c *gin.Context) {
	if err := h.chatSvc.ClearHistory(c.Request.Context(), userID(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to clear history")
		return
	}
	noContent(c)
}
