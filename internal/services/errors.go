// Package services defines the business logic for entitlements, payments, and
// conversation orchestration. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrQuotaExhausted indicates a normal negative quota decision: the free
	// tier is spent and no purchased credit remains. It is not a failure and
	// is surfaced to the user as a purchase prompt.
	ErrQuotaExhausted = errors.New("message quota exhausted")

	// ErrEmptyPrompt is returned when a message request contains no text.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a message exceeds the configured length cap.
	ErrTooLong = errors.New("prompt too long")

	// ErrGenerationFailed wraps a failure of the generation backend. By the
	// time it is returned the quota unit is already spent and is deliberately
	// not refunded: generation failures must never roll back or bypass quota
	// accounting.
	ErrGenerationFailed = errors.New("reply generation failed")

	// ErrPaymentRejected is the single, deliberately opaque verdict for every
	// failed payment verification (unknown, mismatched, replayed or expired
	// token). The concrete reason is security-logged server-side and never
	// leaks to the payer.
	ErrPaymentRejected = errors.New("payment could not be processed")

	// ErrUnknownPack is returned when a purchase request names a credit pack
	// that is not in the catalog.
	ErrUnknownPack = errors.New("unknown message pack")
)
