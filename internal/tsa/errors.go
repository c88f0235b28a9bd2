// Package tsa implements the client side of the RFC 3161 Time-Stamp Protocol.
package tsa

import (
	"errors"
	"fmt"
)

// TSAError represents a Time-Stamp Authority operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type TSAError struct {
	Op  string // Operation: "request", "response", "verify", "parse"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *TSAError) Error() string {
	return fmt.Sprintf("tsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TSAError) Unwrap() error { return e.Err }

// NewTSAError creates a new TSAError with the given operation and error.
func NewTSAError(op string, err error) *TSAError {
	return &TSAError{Op: op, Err: err}
}

// Sentinel errors for TSA operations.
var (
	// ErrInvalidRequest indicates the timestamp request is malformed.
	ErrInvalidRequest = errors.New("invalid timestamp request")

	// ErrInvalidResponse indicates the timestamp response is malformed.
	ErrInvalidResponse = errors.New("invalid timestamp response")

	// ErrRejected indicates the TSA did not grant the request.
	ErrRejected = errors.New("timestamp request rejected")

	// ErrVerificationFailed indicates timestamp verification failed.
	ErrVerificationFailed = errors.New("timestamp verification failed")

	// ErrHashMismatch indicates the message imprint does not match.
	ErrHashMismatch = errors.New("message imprint mismatch")

	// ErrNonceMismatch indicates the nonce in response does not match request.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrUnsupportedHashAlgorithm indicates the hash algorithm is not supported.
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

	// ErrInvalidToken indicates the timestamp token is invalid.
	ErrInvalidToken = errors.New("invalid timestamp token")
)
