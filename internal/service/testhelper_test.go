package service

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/remiblancher/qsign/internal/keystore"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/provider/software"
)

const testPassword = "Qwerty12"

type testPKI struct {
	caCert *x509.Certificate
	caKey  crypto.Signer
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "NCA Test Root"},
		NotBefore:             time.Now().Add(-48 * time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create CA: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	return &testPKI{caCert: cert, caKey: key}
}

// keystore issues a certificate for cn and returns it as a base64 PKCS#12.
func (p *testPKI) keystore(t *testing.T, cn string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn, SerialNumber: "IIN" + cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("Failed to issue certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	blob, err := keystore.EncodePKCS12(key, cert, []*x509.Certificate{p.caCert}, testPassword)
	if err != nil {
		t.Fatalf("Failed to encode keystore: %v", err)
	}
	return base64.StdEncoding.EncodeToString(blob)
}

func (p *testPKI) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)
	return pool
}

// newTestService returns a service over a software provider trusting pki.
func newTestService(t *testing.T, pki *testPKI, cfg Config) *Service {
	t.Helper()
	p := software.New(software.Config{Roots: pki.roots()})
	cfg.Handle = provider.NewHandle(p)
	return New(cfg)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// recordingProvider records the flags of every Sign call.
type recordingProvider struct {
	*software.Provider
	signFlags []provider.Flags
}

func (p *recordingProvider) Sign(ctx context.Context, id *provider.Identity, content []byte, flags provider.Flags) ([]byte, error) {
	p.signFlags = append(p.signFlags, flags)
	return p.Provider.Sign(ctx, id, content, flags)
}

// newRecordingService returns a service whose provider records Sign flags.
func newRecordingService(pki *testPKI) (*Service, *recordingProvider) {
	rec := &recordingProvider{Provider: software.New(software.Config{Roots: pki.roots()})}
	return New(Config{Handle: provider.NewHandle(rec)}), rec
}
