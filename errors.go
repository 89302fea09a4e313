// errors.go: structured error types for talos's SMR domain and data
// structures, built on github.com/agilira/go-errors.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for talos operations.
const (
	// Configuration errors (1xxx)
	ErrCodeInvalidConfig       errors.ErrorCode = "TALOS_INVALID_CONFIG"
	ErrCodeInvalidHazardCount  errors.ErrorCode = "TALOS_INVALID_HAZARD_COUNT"
	ErrCodeInvalidReprobeLimit errors.ErrorCode = "TALOS_INVALID_REPROBE_LIMIT"

	// SMR-fatal errors (5xxx) - allocation failure on a reclamation path.
	// spec.md §7: "fatal; the invariants of reclamation cannot be
	// maintained on partial allocation."
	ErrCodeSMRAllocFailed errors.ErrorCode = "TALOS_SMR_ALLOC_FAILED"
	ErrCodePanicRecovered errors.ErrorCode = "TALOS_PANIC_RECOVERED"
)

const (
	msgInvalidConfig       = "invalid domain configuration"
	msgInvalidHazardCount  = "hazard pointer capacity must be > 0"
	msgInvalidReprobeLimit = "reprobe limit must be > 0"
	msgSMRAllocFailed      = "allocation failed on an SMR-critical path"
	msgPanicRecovered      = "panic recovered in talos operation"
)

// NewErrInvalidConfig creates an error for a rejected configuration value.
func NewErrInvalidConfig(field string, value interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidConfig, msgInvalidConfig, map[string]interface{}{
		"field": field,
		"value": value,
	})
}

// NewErrInvalidHazardCount creates an error for an invalid hazard capacity.
func NewErrInvalidHazardCount(n int) error {
	return errors.NewWithField(ErrCodeInvalidHazardCount, msgInvalidHazardCount, "requested", n)
}

// NewErrInvalidReprobeLimit creates an error for an invalid reprobe limit.
func NewErrInvalidReprobeLimit(n int) error {
	return errors.NewWithField(ErrCodeInvalidReprobeLimit, msgInvalidReprobeLimit, "requested", n)
}

// NewErrSMRAllocFailed creates the one fatal error kind in this library:
// an allocation failure on a path that the SMR engine's invariants depend
// on. recoverAllocFailure raises it from Domain.AcquireHazards (growing
// the hazard-record list) and from a scan (building its set of published
// hazards). Callers that reach this are expected to treat it as
// unrecoverable, per spec.md §7.
func NewErrSMRAllocFailed(operation string) error {
	return errors.NewWithField(ErrCodeSMRAllocFailed, msgSMRAllocFailed, "operation", operation).
		WithSeverity("critical")
}

// NewErrPanicRecovered wraps a recovered panic, e.g. from a user-supplied
// comparator or callback.
func NewErrPanicRecovered(operation string, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"operation":   operation,
		"panic_value": fmt.Sprintf("%v", panicValue),
	}).WithSeverity("critical")
}

// IsRetryable reports whether err can be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from err, or "" if it has none.
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}
