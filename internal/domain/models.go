// Package domain defines the persistence models for the billing gateway:
// the chat transcript, the per-user daily usage ledger, subscription windows,
// and single-use payment intents. These types are mapped with GORM and form
// the core data layer of the application.
package domain

import (
	"time"
)

// Message roles stored in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IntentKind identifies what a payment intent purchases.
type IntentKind string

const (
	// IntentSubscription buys a time-bounded unlimited window.
	IntentSubscription IntentKind = "subscription"
	// IntentMessagePack buys a one-time batch of message credits.
	IntentMessagePack IntentKind = "message_pack"
)

// IntentStatus is the lifecycle state of a payment intent.
// Completed is terminal; an intent never reverts to pending.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
)

// Message represents a single utterance in a user's transcript. The transcript
// is append-only and consumed solely to assemble recent context for the
// generation backend; it carries no entitlement state.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the transcript owner; indexed together with
//     CreatedAt for efficient recent-context reads and retention trims.
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Content: full text content of the message.
//   - CreatedAt: insertion timestamp (UTC).
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_msgs,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Usage is the per-user daily counter and purchased-credit balance
// (at most one row per user).
//
// Day is the calendar day (YYYY-MM-DD) that Used applies to. On rollover the
// Used column resets to 0 on first touch of the new day, while Credits is
// carried forward verbatim: purchased credits are not day-scoped and never
// expire.
//
// Fields:
//   - UserID: primary key; one ledger row per user.
//   - Day: calendar day Used applies to.
//   - Used: free-tier messages consumed on Day (0..daily limit).
//   - Credits: remaining purchased credits, always >= 0.
type Usage struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Day       string    `json:"date"    gorm:"column:date;type:char(10);not null"`
	Used      int       `json:"used"    gorm:"not null;default:0"`
	Credits   int       `json:"credits" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Usage.
func (Usage) TableName() string { return "limits" }

// Subscription is a user's unlimited-access window (at most one per user).
// A user is subscribed iff a row exists and EndDate is in the future; the row
// becomes inert after expiry and is never deleted. Renewal while active
// extends EndDate; renewal after expiry restarts from "now".
type Subscription struct {
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	StartDate time.Time `json:"start_date" gorm:"not null"`
	EndDate   time.Time `json:"end_date"   gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// PaymentIntent binds a future payment to a specific user and effect. The
// token is the only artifact that crosses the trust boundary to the payment
// rail and is treated as a bearer secret: unguessable, single-use, short-lived
// and user-bound. Consumed intents are kept forever as an audit trail.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: the only user allowed to consume this intent.
//   - Token: cryptographically random token (>=128 bits entropy), unique.
//   - Kind: what the intent purchases (subscription or message pack).
//   - Amount: price in the payment rail's unit.
//   - CreditCount: purchased credit quantity (message packs only).
//   - Status: pending until the single verified completion, then completed.
//   - CreatedAt / ExpiresAt: issue time and hard consumption deadline.
//   - UsedAt: set exactly once, when the intent is consumed.
type PaymentIntent struct {
	ID          string       `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string       `json:"user_id"      gorm:"type:varchar(64);not null;index"`
	Token       string       `json:"-"            gorm:"column:payment_token;type:char(64);not null;uniqueIndex:ux_payment_token"`
	Kind        IntentKind   `json:"payment_type" gorm:"column:payment_type;type:varchar(16);not null;check:payment_type IN ('subscription','message_pack')"`
	Amount      int64        `json:"amount"       gorm:"not null"`
	CreditCount int          `json:"credit_count" gorm:"not null;default:0"`
	Status      IntentStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','completed')"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"   gorm:"index"`
	UsedAt      *time.Time   `json:"used_at,omitempty"`
}

// TableName returns the database table name for PaymentIntent.
func (PaymentIntent) TableName() string { return "payment_intents" }

// DayOf formats t as the calendar day stored in Usage.Day.
func DayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }
