// Package handlers defines HTTP-layer error codes used across all API
// endpoints. Codes are lowercase snake_case and stable: clients branch on
// them programmatically, supplementing the human-readable message.
//
// Domain-specific codes:
//   - quota_exhausted: the daily free tier and purchased credits are spent;
//     the response body carries the purchase catalog.
//   - payment_rejected: deliberately opaque verdict for any failed payment
//     verification; the concrete reason is only in server logs.
//   - generation_failed: the reply backend failed after the quota unit was
//     already spent.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeQuotaExhausted   = "quota_exhausted"
	ErrCodePaymentRejected  = "payment_rejected"
	ErrCodeGenerationFailed = "generation_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
