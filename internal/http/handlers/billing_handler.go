// Billing HTTP handlers.
//
// This file exposes the entitlement and purchase endpoints:
//   - GET  /status                  (subscription/limit/credit snapshot)
//   - GET  /purchases/packs         (credit pack catalog)
//   - POST /purchases/subscription  (mint a subscription payment intent)
//   - POST /purchases/messages      (mint a message-pack payment intent)
//   - POST /payments/webhook        (payment rail completion callback)
//
// The webhook deliberately reports every verification failure with the same
// generic 400: which check failed (unknown token, wrong user, replay, expiry)
// is a server-side security signal, not information for the caller.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/services"
)

//
// DTOs
//

// StatusResponse combines the entitlement snapshot with the purchase menu.
type StatusResponse struct {
	Status  services.Status `json:"status"`
	Catalog Catalog         `json:"catalog"`
}

// CreatePackIntentRequest selects a catalog pack by credit count.
type CreatePackIntentRequest struct {
	// Count is the credit quantity of the desired pack.
	Count int `json:"count" binding:"required,min=1" example:"50"`
}

// IntentResponse is the minted payment intent handed to the payment rail as
// the invoice payload. Only the token, price, and deadline leave the server.
type IntentResponse struct {
	Token     string            `json:"token"`
	Kind      domain.IntentKind `json:"kind"`
	Amount    int64             `json:"amount"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// WebhookRequest is the completion callback from the payment rail: the
// previously issued token plus the paying user's id.
type WebhookRequest struct {
	Token  string `json:"token" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// WebhookResponse describes the granted effect on success.
type WebhookResponse struct {
	Grant *services.Grant `json:"grant"`
}

//
// Handlers
//

// GetStatus handles GET /status.
func (h *Handlers) GetStatus(c *gin.Context) {
	st, err := h.entSvc.GetStatus(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load status")
		return
	}
	ok(c, http.StatusOK, StatusResponse{Status: st, Catalog: h.catalog})
}

// ListPacks handles GET /purchases/packs.
func (h *Handlers) ListPacks(c *gin.Context) {
	ok(c, http.StatusOK, h.catalog)
}

// CreateSubscriptionIntent handles POST /purchases/subscription.
func (h *Handlers) CreateSubscriptionIntent(c *gin.Context) {
	rec, err := h.paySvc.CreateSubscriptionIntent(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create payment intent")
		return
	}
	ok(c, http.StatusCreated, intentResponse(rec))
}

// CreateMessagePackIntent handles POST /purchases/messages.
func (h *Handlers) CreateMessagePackIntent(c *gin.Context) {
	var req CreatePackIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "count is required")
		return
	}

	rec, err := h.paySvc.CreateMessagePackIntent(c.Request.Context(), userID(c), req.Count)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, intentResponse(rec))
	case errors.Is(err, services.ErrUnknownPack):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown message pack")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create payment intent")
	}
}

// PaymentWebhook handles POST /payments/webhook. Rejections are generic on
// purpose; replayed or tampered callbacks land here and must learn nothing.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token and user_id are required")
		return
	}

	grant, err := h.paySvc.Reconcile(c.Request.Context(), req.Token, req.UserID)
	switch {
	case err == nil:
		ok(c, http.StatusOK, WebhookResponse{Grant: grant})
	case errors.Is(err, services.ErrPaymentRejected):
		fail(c, http.StatusBadRequest, ErrCodePaymentRejected, "payment could not be processed")
	default:
		// Verified payment whose grant failed: operational incident, the
		// caller must not treat it as a rejection.
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "payment processing failed")
	}
}

// intentResponse maps a stored intent onto its outward-facing shape.
func intentResponse(rec *domain.PaymentIntent) IntentResponse {
	return IntentResponse{
		Token:     rec.Token,
		Kind:      rec.Kind,
		Amount:    rec.Amount,
		ExpiresAt: rec.ExpiresAt,
	}
}
