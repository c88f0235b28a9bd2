package cms

import (
	"context"
	"crypto"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// Functional Tests: Sign/Verify Round Trip
// =============================================================================

func TestF_SignVerify_ECDSAP256(t *testing.T) {
	content := []byte("Hello, CMS!")
	der, cert := signTest(t, content, false)

	result, err := Verify(context.Background(), der, &VerifyConfig{SkipCertVerify: true})
	if err != nil {
		t.Fatalf("Failed to verify: %v", err)
	}

	if !result.SignerCert.Equal(cert) {
		t.Error("SignerCert does not match the signing certificate")
	}
	if string(result.Content) != string(content) {
		t.Errorf("Content mismatch: expected %q, got %q", content, result.Content)
	}
	if len(result.Signers) != 1 {
		t.Errorf("expected 1 signer, got %d", len(result.Signers))
	}
	if result.Signers[0].DigestAlgorithm != crypto.SHA256 {
		t.Errorf("DigestAlgorithm = %v", result.Signers[0].DigestAlgorithm)
	}
}

func TestF_SignVerify_DetachedWrongContent(t *testing.T) {
	der, _ := signTest(t, []byte("original"), true)

	_, err := Verify(context.Background(), der, &VerifyConfig{Data: []byte("tampered")})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestU_Verify_DetachedWithoutData(t *testing.T) {
	der, _ := signTest(t, []byte("original"), true)

	_, err := Verify(context.Background(), der, nil)
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestU_Verify_SignatureInvalid(t *testing.T) {
	der, _ := signTest(t, []byte("content"), false)
	tampered := modifySignature(t, der)

	_, err := Verify(context.Background(), tampered, &VerifyConfig{SkipCertVerify: true})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestF_Verify_AlgorithmMismatch_RSADeclaredECDSAKey(t *testing.T) {
	der, _ := signTest(t, []byte("content"), false)
	tampered := modifySignatureOID(t, der, OIDSHA256WithRSA)

	_, err := Verify(context.Background(), tampered, &VerifyConfig{SkipCertVerify: true})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestU_Verify_NoCertificate(t *testing.T) {
	kp := generateECDSAKeyPair(t, elliptic.P256())
	cert := generateTestCertificate(t, kp)

	der, err := Sign(context.Background(), []byte("x"), &SignerConfig{Certificate: cert, Signer: kp.PrivateKey})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = Verify(context.Background(), der, nil)
	if !errors.Is(err, ErrNoCertificate) {
		t.Errorf("expected ErrNoCertificate, got %v", err)
	}
}

// =============================================================================
// Functional Tests: Chain and Validity
// =============================================================================

func TestF_Verify_CertificateChain(t *testing.T) {
	caCert, caKey := generateTestCA(t)
	kp := generateECDSAKeyPair(t, elliptic.P256())
	cert := issueTestCertificate(t, caCert, caKey, kp)

	der, err := Sign(context.Background(), []byte("chain"), &SignerConfig{
		Certificate:  cert,
		Signer:       kp.PrivateKey,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	if _, err := Verify(context.Background(), der, &VerifyConfig{Roots: roots}); err != nil {
		t.Errorf("Verify with trusted root failed: %v", err)
	}
}

func TestU_Verify_CertificateUntrusted(t *testing.T) {
	caCert, caKey := generateTestCA(t)
	otherCA, _ := generateTestCA(t)
	kp := generateECDSAKeyPair(t, elliptic.P256())
	cert := issueTestCertificate(t, caCert, caKey, kp)

	der, err := Sign(context.Background(), []byte("chain"), &SignerConfig{
		Certificate:  cert,
		Signer:       kp.PrivateKey,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(otherCA)
	_, err = Verify(context.Background(), der, &VerifyConfig{Roots: roots})
	if !errors.Is(err, ErrChainVerification) {
		t.Errorf("expected ErrChainVerification, got %v", err)
	}
}

func TestU_Verify_ExpiredCertificate(t *testing.T) {
	kp := generateECDSAKeyPair(t, elliptic.P256())
	cert := generateNamedCertificate(t, kp, "Expired", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))

	der, err := Sign(context.Background(), []byte("old"), &SignerConfig{
		Certificate:  cert,
		Signer:       kp.PrivateKey,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	_, err = Verify(context.Background(), der, nil)
	if !errors.Is(err, ErrCertificateExpired) {
		t.Errorf("expected ErrCertificateExpired, got %v", err)
	}

	if _, err := Verify(context.Background(), der, &VerifyConfig{SkipTimeCheck: true}); err != nil {
		t.Errorf("Verify with SkipTimeCheck failed: %v", err)
	}
}

// =============================================================================
// Unit Tests: Helpers
// =============================================================================

func TestU_OidToHash(t *testing.T) {
	tests := []struct {
		name    string
		oid     asn1.ObjectIdentifier
		want    crypto.Hash
		wantErr bool
	}{
		{"[Unit] OidToHash: SHA256", OIDSHA256, crypto.SHA256, false},
		{"[Unit] OidToHash: SHA384", OIDSHA384, crypto.SHA384, false},
		{"[Unit] OidToHash: SHA512", OIDSHA512, crypto.SHA512, false},
		{"[Unit] OidToHash: SHA3-256", OIDSHA3_256, crypto.SHA3_256, false},
		{"[Unit] OidToHash: unknown", asn1.ObjectIdentifier{1, 2, 3}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := oidToHash(tt.oid)
			if (err != nil) != tt.wantErr {
				t.Fatalf("oidToHash() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("oidToHash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestU_ValidateKeyMatch(t *testing.T) {
	ec := generateECDSAKeyPair(t, elliptic.P256())
	ed := generateEd25519KeyPair(t)

	if err := validateKeyMatch(ec.PublicKey, OIDECDSAWithSHA256); err != nil {
		t.Errorf("ECDSA/ecdsa-with-SHA256: %v", err)
	}
	if err := validateKeyMatch(ec.PublicKey, OIDEd25519); err == nil {
		t.Error("ECDSA key accepted Ed25519 OID")
	}
	if err := validateKeyMatch(ed.PublicKey, OIDEd25519); err != nil {
		t.Errorf("Ed25519/Ed25519: %v", err)
	}
}
