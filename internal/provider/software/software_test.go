package software

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/remiblancher/qsign/internal/cms"
	"github.com/remiblancher/qsign/internal/keystore"
	"github.com/remiblancher/qsign/internal/provider"
)

// =============================================================================
// Test Helpers
// =============================================================================

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

func (p *testPKI) issue(t *testing.T, cn string, notBefore, notAfter time.Time) *provider.Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn, SerialNumber: "IIN" + cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("Failed to issue certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	return provider.NewIdentity(provider.StoragePKCS12, cert, []*x509.Certificate{p.caCert}, key, nil)
}

func (p *testPKI) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)
	return pool
}

func validWindow() (time.Time, time.Time) {
	return time.Now().Add(-time.Hour), time.Now().Add(24 * time.Hour)
}

// =============================================================================
// Sign Tests
// =============================================================================

func TestU_Sign_OutputFormats(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	p := New(Config{})
	ctx := context.Background()

	tests := []struct {
		name  string
		flags provider.Flags
		check func(t *testing.T, out []byte)
	}{
		{"[Unit] Sign: DER", provider.SignCMS, func(t *testing.T, out []byte) {
			if out[0] != 0x30 {
				t.Error("expected DER output")
			}
		}},
		{"[Unit] Sign: base64", provider.SignCMS | provider.OutputBase64, func(t *testing.T, out []byte) {
			if _, err := base64.StdEncoding.DecodeString(string(out)); err != nil {
				t.Errorf("output is not base64: %v", err)
			}
		}},
		{"[Unit] Sign: PEM wins over base64", provider.SignCMS | provider.OutputBase64 | provider.OutputPEM, func(t *testing.T, out []byte) {
			if !strings.HasPrefix(string(out), "-----BEGIN CMS-----") {
				t.Errorf("output is not PEM: %.30q", out)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Sign(ctx, id, []byte("document"), tt.flags)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			tt.check(t, out)
		})
	}
}

func TestU_Sign_Errors(t *testing.T) {
	p := New(Config{})
	ctx := context.Background()

	if _, err := p.Sign(ctx, nil, []byte("x"), provider.SignCMS); !errors.Is(err, provider.ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}

	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	if _, err := p.Sign(ctx, id, []byte("x"), provider.OutputDER); !errors.Is(err, provider.ErrUnsupportedFlags) {
		t.Errorf("expected ErrUnsupportedFlags, got %v", err)
	}
}

func TestU_Sign_TimestampWithoutTSA(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)

	out, err := New(Config{}).Sign(context.Background(), id, []byte("x"), provider.SignCMS|provider.WithTimestamp)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	msg, err := cms.Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Signers[0].TimeStampToken() != nil {
		t.Error("unexpected timestamp without a TSA")
	}
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestF_Verify_AttachedRoundTrip(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	p := New(Config{Roots: pki.roots()})
	ctx := context.Background()

	sig, err := p.Sign(ctx, id, []byte("hello"), provider.SignCMS|provider.OutputPEM)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	info, data, err := p.Verify(ctx, nil, sig, provider.SignCMS|provider.InputPEM)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	if len(info.Signers) != 1 || info.Signers[0].Subject != "ALICE" || info.Signers[0].SerialNumber != "IINALICE" {
		t.Errorf("unexpected signers: %+v", info.Signers)
	}
}

func TestF_Verify_Detached(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	p := New(Config{})
	ctx := context.Background()

	sig, err := p.Sign(ctx, id, []byte("doc"), provider.SignCMS|provider.DetachedData)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, _, err := p.Verify(ctx, []byte("doc"), sig, provider.SignCMS|provider.InputDER|provider.DetachedData); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if _, _, err := p.Verify(ctx, []byte("tampered"), sig, provider.SignCMS|provider.InputDER|provider.DetachedData); !errors.Is(err, provider.ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed, got %v", err)
	}
	if _, _, err := p.Verify(ctx, nil, sig, provider.SignCMS|provider.InputDER); !errors.Is(err, provider.ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed without content, got %v", err)
	}
}

func TestU_Verify_ErrorMapping(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	ctx := context.Background()
	sig, err := New(Config{}).Sign(ctx, id, []byte("doc"), provider.SignCMS)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	otherRoots := newTestPKI(t).roots()

	tests := []struct {
		name    string
		p       *Provider
		sig     []byte
		flags   provider.Flags
		wantErr error
	}{
		{"[Unit] Verify: bad base64", New(Config{}), []byte("not-valid-base64!!!"), provider.SignCMS | provider.InputBase64, provider.ErrEncode},
		{"[Unit] Verify: not CMS", New(Config{}), []byte{0x30, 0x03, 0x02, 0x01, 0x01}, provider.SignCMS | provider.InputDER, provider.ErrUnknownFormat},
		{"[Unit] Verify: base64 read as DER", New(Config{}), []byte(base64.StdEncoding.EncodeToString(sig)), provider.SignCMS | provider.InputDER, provider.ErrUnknownFormat},
		{"[Unit] Verify: untrusted chain", New(Config{Roots: otherRoots}), sig, provider.SignCMS | provider.InputDER, provider.ErrChainNotFound},
		{"[Unit] Verify: missing SignCMS", New(Config{}), sig, provider.InputDER, provider.ErrUnsupportedFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.p.Verify(ctx, nil, tt.sig, tt.flags)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_Verify_ChainNotFoundMarker(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	sig, _ := New(Config{}).Sign(context.Background(), pki.issue(t, "ALICE", nb, na), []byte("doc"), provider.SignCMS)

	_, _, err := New(Config{Roots: newTestPKI(t).roots()}).Verify(context.Background(), nil, sig, provider.SignCMS)
	if err == nil || !strings.Contains(err.Error(), "not found root or intermediate certificate") {
		t.Errorf("error text = %v", err)
	}
}

func TestU_Verify_NoCheckCertTime(t *testing.T) {
	pki := newTestPKI(t)
	expired := pki.issue(t, "OLD", time.Now().Add(-47*time.Hour), time.Now().Add(-time.Hour))
	p := New(Config{Roots: pki.roots()})
	ctx := context.Background()

	sig, err := p.Sign(ctx, expired, []byte("archived"), provider.SignCMS)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, _, err := p.Verify(ctx, nil, sig, provider.SignCMS); !errors.Is(err, provider.ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed for expired certificate, got %v", err)
	}
	if _, _, err := p.Verify(ctx, nil, sig, provider.SignCMS|provider.NoCheckCertTime); err != nil {
		t.Errorf("Verify() with NoCheckCertTime error = %v", err)
	}
}

func TestU_DecodeSignature_Sniff(t *testing.T) {
	der := []byte{0x30, 0x01, 0x00}
	got, err := decodeSignature(der, provider.SignCMS)
	if err != nil || !bytes.Equal(got, der) {
		t.Errorf("DER sniff = %x, %v", got, err)
	}

	got, err = decodeSignature([]byte(" MAEA\n"), provider.SignCMS)
	if err != nil || !bytes.Equal(got, der) {
		t.Errorf("base64 sniff = %x, %v", got, err)
	}
}

// =============================================================================
// Keystore / Property Tests
// =============================================================================

func TestU_LoadIdentity_PKCS12(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	p12, err := keystore.EncodePKCS12(id.Signer, id.Certificate, id.Chain, "pw")
	if err != nil {
		t.Fatalf("EncodePKCS12() error = %v", err)
	}

	loaded, err := New(Config{}).LoadIdentity(context.Background(), provider.StoragePKCS12, p12, "pw")
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	if !loaded.Certificate.Equal(id.Certificate) {
		t.Error("certificate mismatch")
	}

	if _, err := New(Config{}).LoadIdentity(context.Background(), provider.StoragePKCS12, p12, "bad"); !errors.Is(err, keystore.ErrBadPassword) {
		t.Errorf("expected ErrBadPassword, got %v", err)
	}
}

func TestU_CertificateProperty(t *testing.T) {
	pki := newTestPKI(t)
	nb := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	id := pki.issue(t, "ALICE", nb, nb.Add(time.Hour))
	p := New(Config{})

	tests := []struct {
		prop provider.CertProperty
		want string
	}{
		{provider.SubjectCommonName, "ALICE"},
		{provider.IssuerCommonName, "NCA Test Root"},
		{provider.SubjectSerialNumber, "IINALICE"},
		{provider.NotBefore, "2025-01-02 03:04:05"},
		{provider.NotAfter, "2025-01-02 04:04:05"},
	}

	for _, tt := range tests {
		got, err := p.CertificateProperty(id.Certificate, tt.prop)
		if err != nil || got != tt.want {
			t.Errorf("CertificateProperty(%d) = %q, %v, want %q", tt.prop, got, err, tt.want)
		}
	}

	if _, err := p.CertificateProperty(id.Certificate, provider.CertProperty(99)); err == nil {
		t.Error("expected error for unknown property")
	}
	if _, err := p.CertificateProperty(nil, provider.SubjectCommonName); err == nil {
		t.Error("expected error for nil certificate")
	}
}

func TestU_ExtractContent(t *testing.T) {
	pki := newTestPKI(t)
	nb, na := validWindow()
	id := pki.issue(t, "ALICE", nb, na)
	p := New(Config{})
	ctx := context.Background()

	content := []byte("hello\x00\x00 \n")
	sig, _ := p.Sign(ctx, id, content, provider.SignCMS)
	got, err := p.ExtractContent(ctx, sig)
	if err != nil || !bytes.Equal(got, content) {
		t.Errorf("ExtractContent() = %q, %v", got, err)
	}

	if _, err := p.ExtractContent(ctx, []byte("junk")); !errors.Is(err, provider.ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
