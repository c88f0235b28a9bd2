package cosign

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/remiblancher/qsign/internal/cms"
	"github.com/remiblancher/qsign/internal/provider"
)

// testSigner is a self-signed ECDSA identity.
type testSigner struct {
	cert *x509.Certificate
	key  crypto.Signer

	// noCerts omits the certificate from produced signatures.
	noCerts bool
	flags   []provider.Flags
}

func newTestSigner(t *testing.T, cn string) *testSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("Failed to generate serial: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &testSigner{cert: cert, key: key}
}

// Sign implements Signer with an attached or detached SignedData.
func (s *testSigner) Sign(ctx context.Context, content []byte, flags provider.Flags) ([]byte, error) {
	s.flags = append(s.flags, flags)
	return cms.Sign(ctx, content, &cms.SignerConfig{
		Certificate:  s.cert,
		Signer:       s.key,
		IncludeCerts: !s.noCerts,
		Detached:     flags.Has(provider.DetachedData),
	})
}

func (s *testSigner) message(t *testing.T, content []byte, detached bool) *cms.SignedMessage {
	t.Helper()
	var flags provider.Flags = provider.SignCMS
	if detached {
		flags |= provider.DetachedData
	}
	der, err := s.Sign(context.Background(), content, flags)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	msg, err := cms.Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return msg
}

// cmsExtractor reads content straight from the DER.
type cmsExtractor struct {
	calls int
	err   error
	data  []byte
}

func (e *cmsExtractor) ExtractContent(_ context.Context, der []byte) ([]byte, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if e.data != nil {
		return e.data, nil
	}
	return cms.ExtractContent(der)
}
