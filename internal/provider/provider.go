// Package provider defines the boundary to a signing provider: the component
// that loads identities, produces CMS signatures and verifies them.
//
// A Provider is shared. Callers go through a Handle, which serializes use of
// the provider and hands out a Session per document. The identity loaded for
// a document lives on its Session and is passed explicitly to Sign.
//
// Usage:
//
//	h := provider.NewHandle(software.New(software.Config{}))
//	sess, err := h.Acquire(ctx)
//	if err != nil { ... }
//	defer sess.Release()
//	if _, err := sess.LoadIdentity(ctx, provider.StoragePKCS12, p12, password); err != nil { ... }
//	sig, err := sess.Sign(ctx, doc, provider.SignCMS|provider.OutputBase64)
package provider

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"io"
	"strings"
	"time"
)

// Flags selects signing and verification behavior. The set is closed.
type Flags uint32

const (
	// SignCMS produces or expects a CMS SignedData.
	SignCMS Flags = 1 << iota
	// InputBase64 marks the signature input as base64 text.
	InputBase64
	// InputDER marks the signature input as binary DER.
	InputDER
	// InputPEM marks the signature input as PEM armored base64.
	InputPEM
	// OutputBase64 renders the produced signature as base64 text.
	OutputBase64
	// OutputDER renders the produced signature as binary DER.
	OutputDER
	// OutputPEM renders the produced signature as PEM.
	OutputPEM
	// DetachedData signs or verifies without encapsulated content.
	DetachedData
	// WithTimestamp attaches an RFC 3161 signature timestamp.
	WithTimestamp
	// NoCheckCertTime skips the signer certificate validity period check.
	NoCheckCertTime
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{SignCMS, "SignCMS"},
	{InputBase64, "InputBase64"},
	{InputDER, "InputDER"},
	{InputPEM, "InputPEM"},
	{OutputBase64, "OutputBase64"},
	{OutputDER, "OutputDER"},
	{OutputPEM, "OutputPEM"},
	{DetachedData, "DetachedData"},
	{WithTimestamp, "WithTimestamp"},
	{NoCheckCertTime, "NoCheckCertTime"},
}

// Has reports whether every bit of x is set in f.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// String returns the flag names joined with "|".
func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// StorageKind identifies the keystore container format.
type StorageKind string

const (
	StoragePKCS12   StorageKind = "PKCS12"
	StoragePEM      StorageKind = "PEM"
	StorageKazToken StorageKind = "KAZTOKEN"
)

// ParseStorageKind parses a storage name case-insensitively. Unknown and
// empty names fall back to PKCS12.
func ParseStorageKind(s string) StorageKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PEM":
		return StoragePEM
	case "KAZTOKEN":
		return StorageKazToken
	default:
		return StoragePKCS12
	}
}

// Identity is a loaded signing identity.
type Identity struct {
	Kind        StorageKind
	Certificate *x509.Certificate
	// Chain holds the CA certificates shipped with the keystore.
	Chain  []*x509.Certificate
	Signer crypto.Signer

	closer io.Closer
}

// NewIdentity returns an identity. closer, when not nil, is called by Close.
func NewIdentity(kind StorageKind, cert *x509.Certificate, chain []*x509.Certificate, signer crypto.Signer, closer io.Closer) *Identity {
	return &Identity{Kind: kind, Certificate: cert, Chain: chain, Signer: signer, closer: closer}
}

// Close releases resources held by the identity, such as a token session.
func (id *Identity) Close() error {
	if id == nil || id.closer == nil {
		return nil
	}
	return id.closer.Close()
}

// SignerSummary describes one verified signer.
type SignerSummary struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	SigningTime  time.Time
	Timestamped  bool
	Certificate  *x509.Certificate
}

// VerificationInfo is the provider's report of a successful verification.
type VerificationInfo struct {
	Signers  []SignerSummary
	Detached bool
}

// String renders a human-readable report.
func (v *VerificationInfo) String() string {
	if v == nil {
		return ""
	}
	var b strings.Builder
	for i, s := range v.Signers {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Signer: " + s.Subject)
		b.WriteString("\nIssuer: " + s.Issuer)
		b.WriteString("\nSerial number: " + s.SerialNumber)
		b.WriteString("\nValid: " + s.NotBefore.UTC().Format(time.RFC3339) + " - " + s.NotAfter.UTC().Format(time.RFC3339))
		if !s.SigningTime.IsZero() {
			b.WriteString("\nSigning time: " + s.SigningTime.UTC().Format(time.RFC3339))
		}
		if s.Timestamped {
			b.WriteString("\nTimestamp: present")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CertProperty names a certificate field readable through the provider.
type CertProperty int

const (
	SubjectCommonName CertProperty = iota
	IssuerCommonName
	SubjectSerialNumber
	NotBefore
	NotAfter
	SerialNumber
)

// Provider is the signing provider capability.
type Provider interface {
	// LoadIdentity decodes a keystore. For token storage, password is the PIN.
	LoadIdentity(ctx context.Context, kind StorageKind, blob []byte, password string) (*Identity, error)

	// Sign produces a CMS signature of content with id.
	Sign(ctx context.Context, id *Identity, content []byte, flags Flags) ([]byte, error)

	// Verify checks signature and returns the signed content. content is the
	// original data for DetachedData verification and is ignored otherwise.
	Verify(ctx context.Context, content, signature []byte, flags Flags) (*VerificationInfo, []byte, error)

	// CertificateProperty reads a single field of cert as text.
	CertificateProperty(cert *x509.Certificate, prop CertProperty) (string, error)
}

// Sentinel errors reported by providers.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrUnknownFormat indicates the signature structure was not recognized.
	ErrUnknownFormat = errors.New("UNKNOWN_CMS_FORMAT")

	// ErrEncode indicates the signature could not be decoded for the
	// requested input format.
	ErrEncode = errors.New("encode error")

	// ErrVerificationFailed indicates a well-formed signature did not verify.
	ErrVerificationFailed = errors.New("signature verification failed")

	// ErrChainNotFound indicates the signer chain could not be built to a
	// trusted root.
	ErrChainNotFound = errors.New("not found root or intermediate certificate")

	// ErrProviderFailure indicates the provider could not perform the operation.
	ErrProviderFailure = errors.New("signing provider failure")

	// ErrNoIdentity indicates Sign was called before an identity was loaded.
	ErrNoIdentity = errors.New("no identity loaded")

	// ErrUnsupportedFlags indicates a flag combination the provider cannot honor.
	ErrUnsupportedFlags = errors.New("unsupported flags")
)

// IsUnrecognizedFormat reports whether err means the signature structure
// was not understood, as opposed to a signature that failed to verify.
func IsUnrecognizedFormat(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownFormat) || errors.Is(err, ErrEncode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNKNOWN_CMS_FORMAT") || strings.Contains(msg, "encode error")
}
