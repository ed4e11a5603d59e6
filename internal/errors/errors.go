// Package errors classifies failures of external calls so the gateway and
// workers can decide between retry, terminal failure, and absorb-as-unknown.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an external failure
type Kind string

const (
	// KindTransient covers transport errors, 5xx responses, and explorer
	// rate-limit messages. Retried by the gateway with backoff.
	KindTransient Kind = "transient"
	// KindPermanent covers non-rate-limit 4xx, AI content filters, and
	// structurally unparseable responses. Surfaced without retry.
	KindPermanent Kind = "permanent"
	// KindDomainEmpty is the explorer "No transactions found" sentinel,
	// treated as an empty success upstream.
	KindDomainEmpty Kind = "domain_empty"
	// KindTimeout is a gateway caller timeout; the persisted record may
	// still complete later.
	KindTimeout Kind = "timeout"
	// KindWorkerFatal is an error escaping an analyzer; the job is marked
	// failed and re-run on the next scheduled scan.
	KindWorkerFatal Kind = "worker_fatal"
)

// ExternalError wraps a failure of an outbound call with its retry class
type ExternalError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ExternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExternalError) Unwrap() error {
	return e.Cause
}

// Transient creates a retryable external error
func Transient(message string, cause error) *ExternalError {
	return &ExternalError{Kind: KindTransient, Message: message, Cause: cause}
}

// Permanent creates a non-retryable external error
func Permanent(message string, cause error) *ExternalError {
	return &ExternalError{Kind: KindPermanent, Message: message, Cause: cause}
}

// Timeout creates a caller-timeout error
func Timeout(message string) *ExternalError {
	return &ExternalError{Kind: KindTimeout, Message: message}
}

// WorkerFatal wraps an error escaping an analysis worker
func WorkerFatal(task string, cause error) *ExternalError {
	return &ExternalError{Kind: KindWorkerFatal, Message: task, Cause: cause}
}

// IsRetryable reports whether the gateway should requeue the request
func IsRetryable(err error) bool {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Kind == KindTransient
	}
	// Unclassified errors are assumed transport-level
	return true
}

// IsTimeout reports whether the error is a gateway caller timeout
func IsTimeout(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext) && ext.Kind == KindTimeout
}
