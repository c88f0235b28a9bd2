// Package software implements provider.Provider in process, on top of the
// CMS, keystore and timestamping packages.
package software

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"strings"

	"github.com/remiblancher/qsign/internal/cms"
	"github.com/remiblancher/qsign/internal/keystore"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/tsa"
)

// Config configures a software provider.
type Config struct {
	// Keystores loads identities. A nil value loads PKCS12 and PEM only.
	Keystores *keystore.Loader

	// TSA stamps signatures when WithTimestamp is requested.
	TSA *tsa.Client

	// Roots are the trusted CA certificates. Chain building is skipped when nil.
	Roots *x509.CertPool

	// Intermediates are extra CA certificates used for chain building.
	Intermediates *x509.CertPool

	// Digest is the signing digest (default SHA-256).
	Digest crypto.Hash

	Logger *log.Logger
}

// Provider is the in-process signing provider. It is stateless apart from
// its immutable configuration.
type Provider struct {
	cfg    Config
	logger *log.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New returns a software provider.
func New(cfg Config) *Provider {
	if cfg.Keystores == nil {
		cfg.Keystores = &keystore.Loader{}
	}
	if cfg.Digest == 0 {
		cfg.Digest = crypto.SHA256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Provider{cfg: cfg, logger: logger}
}

// LoadIdentity loads a keystore.
func (p *Provider) LoadIdentity(ctx context.Context, kind provider.StorageKind, blob []byte, password string) (*provider.Identity, error) {
	id, err := p.cfg.Keystores.Load(ctx, kind, blob, password)
	if err != nil {
		return nil, err
	}
	p.logger.Printf("keystore loaded: kind=%s subject=%q", kind, id.Certificate.Subject.CommonName)
	return id, nil
}

// Sign produces a CMS SignedData over content.
func (p *Provider) Sign(ctx context.Context, id *provider.Identity, content []byte, flags provider.Flags) ([]byte, error) {
	if id == nil || id.Signer == nil || id.Certificate == nil {
		return nil, provider.ErrNoIdentity
	}
	if !flags.Has(provider.SignCMS) {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedFlags, flags)
	}

	msg, err := cms.SignMessage(ctx, content, &cms.SignerConfig{
		Certificate:  id.Certificate,
		Signer:       id.Signer,
		Chain:        id.Chain,
		DigestAlg:    p.cfg.Digest,
		IncludeCerts: true,
		Detached:     flags.Has(provider.DetachedData),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
	}

	if flags.Has(provider.WithTimestamp) {
		if p.cfg.TSA == nil || len(p.cfg.TSA.URLs) == 0 {
			p.logger.Printf("timestamp requested but no TSA configured, signing without timestamp")
		} else if _, err := p.cfg.TSA.StampSigner(ctx, msg.Signers[0]); err != nil {
			return nil, fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
		}
	}

	der, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
	}
	return renderOutput(der, flags), nil
}

// renderOutput encodes der according to the output flags. PEM takes
// precedence over base64; DER is the default.
func renderOutput(der []byte, flags provider.Flags) []byte {
	switch {
	case flags.Has(provider.OutputPEM):
		return []byte(payload.Armor(der, payload.LabelCMS))
	case flags.Has(provider.OutputBase64):
		return []byte(base64.StdEncoding.EncodeToString(der))
	default:
		return der
	}
}

// decodeSignature turns signature into DER according to the input flags.
// Without input flags the format is sniffed.
func decodeSignature(signature []byte, flags provider.Flags) ([]byte, error) {
	switch {
	case flags.Has(provider.InputDER):
		return signature, nil
	case flags.Has(provider.InputPEM), flags.Has(provider.InputBase64):
		n, err := payload.Normalize(string(signature))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrEncode, err)
		}
		return n.Bytes, nil
	}

	if len(signature) > 0 && signature[0] == 0x30 {
		return signature, nil
	}
	n, err := payload.Normalize(string(signature))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEncode, err)
	}
	return n.Bytes, nil
}

// Verify verifies a CMS signature. With DetachedData, content is the
// signed data. The returned bytes are the signed content.
func (p *Provider) Verify(ctx context.Context, content, signature []byte, flags provider.Flags) (*provider.VerificationInfo, []byte, error) {
	if !flags.Has(provider.SignCMS) {
		return nil, nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedFlags, flags)
	}

	der, err := decodeSignature(signature, flags)
	if err != nil {
		return nil, nil, err
	}

	msg, err := cms.Parse(der)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", provider.ErrUnknownFormat, err)
	}

	cfg := &cms.VerifyConfig{
		Roots:          p.cfg.Roots,
		Intermediates:  p.cfg.Intermediates,
		SkipCertVerify: p.cfg.Roots == nil,
		SkipTimeCheck:  flags.Has(provider.NoCheckCertTime),
	}
	if flags.Has(provider.DetachedData) {
		cfg.Data = content
	}

	res, err := msg.Verify(ctx, cfg)
	if err != nil {
		return nil, nil, mapVerifyError(err)
	}

	info := &provider.VerificationInfo{Detached: msg.Detached}
	for _, s := range res.Signers {
		info.Signers = append(info.Signers, summarize(s))
	}
	return info, res.Content, nil
}

// mapVerifyError translates CMS errors into provider errors.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, cms.ErrChainVerification):
		return fmt.Errorf("%w: %v", provider.ErrChainNotFound, err)
	case errors.Is(err, cms.ErrInvalidStructure):
		return fmt.Errorf("%w: %v", provider.ErrUnknownFormat, err)
	default:
		return fmt.Errorf("%w: %w", provider.ErrVerificationFailed, err)
	}
}

func summarize(s cms.SignerVerification) provider.SignerSummary {
	c := s.Certificate
	return provider.SignerSummary{
		Subject:      c.Subject.CommonName,
		Issuer:       c.Issuer.CommonName,
		SerialNumber: subjectSerial(c),
		NotBefore:    c.NotBefore,
		NotAfter:     c.NotAfter,
		SigningTime:  s.SigningTime,
		Timestamped:  s.Timestamped,
		Certificate:  c,
	}
}

// ExtractContent returns the encapsulated content without verifying.
func (p *Provider) ExtractContent(_ context.Context, cmsDER []byte) ([]byte, error) {
	data, err := cms.ExtractContent(cmsDER)
	if err != nil {
		if errors.Is(err, cms.ErrInvalidStructure) {
			return nil, fmt.Errorf("%w: %v", provider.ErrUnknownFormat, err)
		}
		return nil, err
	}
	return data, nil
}

// CertificateProperty reads a certificate field as text.
func (p *Provider) CertificateProperty(cert *x509.Certificate, prop provider.CertProperty) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("certificate is required")
	}
	switch prop {
	case provider.SubjectCommonName:
		return cert.Subject.CommonName, nil
	case provider.IssuerCommonName:
		return cert.Issuer.CommonName, nil
	case provider.SubjectSerialNumber:
		return subjectSerial(cert), nil
	case provider.NotBefore:
		return cert.NotBefore.UTC().Format("2006-01-02 15:04:05"), nil
	case provider.NotAfter:
		return cert.NotAfter.UTC().Format("2006-01-02 15:04:05"), nil
	case provider.SerialNumber:
		return formatSerial(cert.SerialNumber), nil
	default:
		return "", fmt.Errorf("unsupported certificate property: %d", prop)
	}
}

// subjectSerial returns the subject serialNumber attribute (for national
// certificates, the IIN), or the certificate serial when absent.
func subjectSerial(cert *x509.Certificate) string {
	if cert.Subject.SerialNumber != "" {
		return cert.Subject.SerialNumber
	}
	return formatSerial(cert.SerialNumber)
}

func formatSerial(n *big.Int) string {
	if n == nil {
		return ""
	}
	return strings.ToUpper(n.Text(16))
}
