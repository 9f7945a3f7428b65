package ingest

import (
	"errors"

	"formhook/internal/platform/repositories"
)

var (
	ErrUnknownWebhook   = errors.New("unknown webhook")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidSignature = errors.New("invalid signature")

	ErrStorageUnavailable = repositories.ErrStorageUnavailable
)

// Outcome labels a delivery result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "stored"
	case errors.Is(err, ErrUnknownWebhook):
		return "unknown_webhook"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "storage_error"
	}
}
