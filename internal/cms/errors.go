package cms

import (
	"errors"
	"fmt"
)

// CMSError represents a CMS operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type CMSError struct {
	Op  string // Operation: "sign", "verify", "parse", "encode", "extract"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *CMSError) Error() string {
	return fmt.Sprintf("cms %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CMSError) Unwrap() error { return e.Err }

// NewCMSError creates a new CMSError with the given operation and error.
func NewCMSError(op string, err error) *CMSError {
	return &CMSError{Op: op, Err: err}
}

// Sentinel errors for CMS operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrInvalidStructure indicates the input is not a well-formed SignedData.
	ErrInvalidStructure = errors.New("invalid CMS structure")

	// ErrInvalidSignature indicates signature verification failed.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoCertificate indicates no certificate was found for a signer.
	ErrNoCertificate = errors.New("no certificate found")

	// ErrNoSigner indicates no signer information was found.
	ErrNoSigner = errors.New("no signer information")

	// ErrNoContent indicates a detached signature was verified without data.
	ErrNoContent = errors.New("no content to verify")

	// ErrUnsupportedAlgorithm indicates an unsupported cryptographic algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrMissingAttribute indicates a required signed attribute is missing.
	ErrMissingAttribute = errors.New("missing signed attribute")

	// ErrChainVerification indicates the signer certificate does not chain
	// to a trusted root.
	ErrChainVerification = errors.New("certificate chain verification failed")

	// ErrCertificateExpired indicates the signer certificate is outside its
	// validity period.
	ErrCertificateExpired = errors.New("signer certificate is not valid at verification time")
)

// invalidStructure wraps err as an ErrInvalidStructure parse error.
func invalidStructure(format string, args ...any) error {
	return NewCMSError("parse", fmt.Errorf("%w: %s", ErrInvalidStructure, fmt.Sprintf(format, args...)))
}
