package provider

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
)

// Handle serializes access to one Provider. At most one Session is active
// at a time.
type Handle struct {
	p    Provider
	slot chan struct{}
}

// NewHandle wraps p.
func NewHandle(p Provider) *Handle {
	return &Handle{p: p, slot: make(chan struct{}, 1)}
}

// Provider returns the wrapped provider.
func (h *Handle) Provider() Provider {
	return h.p
}

// Acquire waits for the provider to be free and returns a Session that owns
// it until Release.
func (h *Handle) Acquire(ctx context.Context) (*Session, error) {
	select {
	case h.slot <- struct{}{}:
		return &Session{h: h}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire signing provider: %w", ctx.Err())
	}
}

// Session is exclusive use of a provider for one document or batch.
// A Session is not safe for concurrent use.
type Session struct {
	h        *Handle
	identity *Identity
	once     sync.Once
}

// LoadIdentity loads a keystore into the session, replacing and closing any
// identity loaded before.
func (s *Session) LoadIdentity(ctx context.Context, kind StorageKind, blob []byte, password string) (*Identity, error) {
	id, err := s.h.p.LoadIdentity(ctx, kind, blob, password)
	if err != nil {
		return nil, err
	}
	_ = s.identity.Close()
	s.identity = id
	return id, nil
}

// Identity returns the loaded identity, or nil.
func (s *Session) Identity() *Identity {
	return s.identity
}

// Sign signs content with the session identity.
func (s *Session) Sign(ctx context.Context, content []byte, flags Flags) ([]byte, error) {
	if s.identity == nil {
		return nil, ErrNoIdentity
	}
	return s.h.p.Sign(ctx, s.identity, content, flags)
}

// Verify verifies signature through the provider.
func (s *Session) Verify(ctx context.Context, content, signature []byte, flags Flags) (*VerificationInfo, []byte, error) {
	return s.h.p.Verify(ctx, content, signature, flags)
}

// CertificateProperty reads a certificate field through the provider.
func (s *Session) CertificateProperty(cert *x509.Certificate, prop CertProperty) (string, error) {
	return s.h.p.CertificateProperty(cert, prop)
}

// ExtractContent returns the content encapsulated in a DER encoded CMS.
// The signature is not required to verify.
func (s *Session) ExtractContent(ctx context.Context, cmsDER []byte) ([]byte, error) {
	_, data, err := s.h.p.Verify(ctx, nil, cmsDER, SignCMS|InputDER|OutputDER|NoCheckCertTime)
	if err == nil {
		return data, nil
	}
	if IsUnrecognizedFormat(err) {
		return nil, err
	}
	if ex, ok := s.h.p.(ContentExtractor); ok {
		return ex.ExtractContent(ctx, cmsDER)
	}
	return nil, err
}

// ContentExtractor is implemented by providers that can read encapsulated
// content without verifying the signature.
type ContentExtractor interface {
	ExtractContent(ctx context.Context, cmsDER []byte) ([]byte, error)
}

// Release closes the session identity and frees the provider. It is safe to
// call more than once.
func (s *Session) Release() {
	s.once.Do(func() {
		_ = s.identity.Close()
		s.identity = nil
		<-s.h.slot
	})
}
