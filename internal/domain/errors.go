package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across store implementations.
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidInput    = errors.New("invalid input")
)

// Rejection codes produced by the event validator.
const (
	RejectUnknownEventType = "unknown_event_type"
	RejectMissingField     = "missing_field"
	RejectDomainViolation  = "domain_violation"
)

// RejectionReason explains why the validator refused an event. Rejections are
// reported to the data-quality channel and never abort batch processing.
type RejectionReason struct {
	Code  string
	Field string
}

func (r *RejectionReason) Error() string {
	if r.Field != "" {
		return r.Code + ": " + r.Field
	}
	return r.Code
}

// ProviderError classifies an inference provider failure. Transient failures
// (timeout, rate limit, 5xx) are retried with backoff; permanent failures
// (bad request, auth) short-circuit to the next tier.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewTransientProviderError wraps a retryable provider failure.
func NewTransientProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Transient: true, Err: err}
}

// NewPermanentProviderError wraps a non-retryable provider failure.
func NewPermanentProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Transient: false, Err: err}
}

// IsTransientProviderError reports whether err is a retryable provider failure.
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// DeliveryError wraps an alert-channel publish failure.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
