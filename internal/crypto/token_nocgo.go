//go:build !cgo

package crypto

import (
	"crypto"
	"crypto/x509"
	"io"
)

// TokenSigner is unavailable in builds without cgo.
type TokenSigner struct{}

// NewTokenSigner returns an error without cgo.
func NewTokenSigner(_ TokenConfig) (*TokenSigner, error) {
	return nil, errNoCGO
}

// Certificates returns an error without cgo.
func (s *TokenSigner) Certificates() ([]*x509.Certificate, error) {
	return nil, errNoCGO
}

// Algorithm returns an empty string without cgo.
func (s *TokenSigner) Algorithm() string { return "" }

// Label returns an empty string without cgo.
func (s *TokenSigner) Label() string { return "" }

// Public returns nil without cgo.
func (s *TokenSigner) Public() crypto.PublicKey { return nil }

// Sign returns an error without cgo.
func (s *TokenSigner) Sign(_ io.Reader, _ []byte, _ crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

// Close does nothing without cgo.
func (s *TokenSigner) Close() error { return nil }

// CloseAllPools does nothing without cgo.
func CloseAllPools() {}
