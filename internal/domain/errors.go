package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports required settings that are missing or invalid.
// It is fatal at startup.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuration: missing required settings: %s", strings.Join(e.Missing, ", "))
	}
	return "configuration: " + e.Reason
}

// CorruptStateError reports a durable state document that cannot be decoded.
// The document is never repaired automatically.
type CorruptStateError struct {
	Location string
	Err      error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("state %s is corrupt: %v", e.Location, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// UpstreamRequestError reports a network or HTTP failure while talking to the
// source provider or a backend.
type UpstreamRequestError struct {
	Service    string
	Operation  string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *UpstreamRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

func (e *UpstreamRequestError) Unwrap() error { return e.Err }

// ValidationError reports an index or mapping that violates an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SignatureVerificationError reports a webhook whose signature did not verify.
type SignatureVerificationError struct {
	Reason string
	Err    error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature verification failed: %s: %v", e.Reason, e.Err)
	}
	return "signature verification failed: " + e.Reason
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// IsConfiguration checks for a ConfigurationError anywhere in the chain.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsCorruptState checks for a CorruptStateError anywhere in the chain.
func IsCorruptState(err error) bool {
	var target *CorruptStateError
	return errors.As(err, &target)
}

// IsUpstream checks for an UpstreamRequestError anywhere in the chain.
func IsUpstream(err error) bool {
	var target *UpstreamRequestError
	return errors.As(err, &target)
}

// IsValidation checks for a ValidationError anywhere in the chain.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsSignature checks for a SignatureVerificationError anywhere in the chain.
func IsSignature(err error) bool {
	var target *SignatureVerificationError
	return errors.As(err, &target)
}

// ClassifyError returns a short label for metrics and audit rows.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	var upstream *UpstreamRequestError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &upstream):
		if upstream.StatusCode >= 500 {
			return "upstream_5xx"
		}
		if upstream.StatusCode >= 400 {
			return "upstream_4xx"
		}
		return "upstream"
	case IsCorruptState(err):
		return "corrupt_state"
	case IsValidation(err):
		return "validation"
	case IsSignature(err):
		return "signature"
	case IsConfiguration(err):
		return "configuration"
	default:
		return "other"
	}
}
