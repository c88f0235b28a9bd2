package cms

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

// VerifyConfig contains options for verifying a CMS signature.
type VerifyConfig struct {
	// Roots is the pool of trusted CA certificates. Chain verification is
	// skipped when nil.
	Roots *x509.CertPool
	// Intermediates is the pool of intermediate CA certificates
	Intermediates *x509.CertPool
	// CurrentTime is the time to use for verification (default: now)
	CurrentTime time.Time
	// Data is the original data for detached signatures
	Data []byte
	// SkipCertVerify skips certificate chain verification
	SkipCertVerify bool
	// SkipTimeCheck disables the signer certificate validity period check.
	SkipTimeCheck bool
}

// SignerVerification describes one verified signer.
type SignerVerification struct {
	Certificate     *x509.Certificate
	SigningTime     time.Time
	DigestAlgorithm crypto.Hash
	Timestamped     bool
}

// VerifyResult contains the result of signature verification.
type VerifyResult struct {
	// Signers lists every signer in message order.
	Signers []SignerVerification
	// Content is the signed content (the supplied data for detached signatures)
	Content []byte
	// ContentType is the content type OID
	ContentType asn1.ObjectIdentifier

	// SignerCert and SigningTime describe the first signer.
	SignerCert  *x509.Certificate
	SigningTime time.Time
}

// Verify parses and verifies a CMS SignedData. Every signer must verify.
func Verify(ctx context.Context, der []byte, config *VerifyConfig) (*VerifyResult, error) {
	msg, err := Parse(der)
	if err != nil {
		return nil, err
	}
	return msg.Verify(ctx, config)
}

// Verify checks every signer of the message.
func (m *SignedMessage) Verify(ctx context.Context, config *VerifyConfig) (*VerifyResult, error) {
	if config == nil {
		config = &VerifyConfig{}
	}
	if len(m.Signers) == 0 {
		return nil, NewCMSError("verify", ErrNoSigner)
	}

	content := m.Content
	if m.Detached {
		if config.Data == nil {
			return nil, NewCMSError("verify", ErrNoContent)
		}
		content = config.Data
	}

	result := &VerifyResult{
		Content:     content,
		ContentType: m.ContentType,
	}

	for i, s := range m.Signers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cert, err := s.FindCertificate(m.Certificates)
		if err != nil {
			return nil, NewCMSError("verify", fmt.Errorf("signer %d: %w", i, err))
		}

		if err := verifySigner(s, cert, content); err != nil {
			return nil, NewCMSError("verify", fmt.Errorf("%w: signer %d: %v", ErrInvalidSignature, i, err))
		}

		signingTime := s.SigningTime()
		checkTime := config.CurrentTime
		if checkTime.IsZero() {
			checkTime = time.Now()
		}

		if !config.SkipTimeCheck {
			if checkTime.Before(cert.NotBefore) || checkTime.After(cert.NotAfter) {
				return nil, NewCMSError("verify", fmt.Errorf("%w: signer %d (%s)", ErrCertificateExpired, i, cert.Subject.CommonName))
			}
		}

		if !config.SkipCertVerify && config.Roots != nil {
			chainTime := checkTime
			if config.SkipTimeCheck {
				// Evaluate the chain at a moment the signer certificate was valid.
				chainTime = cert.NotBefore
				if !signingTime.IsZero() && !signingTime.Before(cert.NotBefore) && !signingTime.After(cert.NotAfter) {
					chainTime = signingTime
				}
			}
			if err := m.verifyChain(cert, config, chainTime); err != nil {
				return nil, NewCMSError("verify", fmt.Errorf("%w: signer %d: %v", ErrChainVerification, i, err))
			}
		}

		hashAlg, _ := s.Hash()
		result.Signers = append(result.Signers, SignerVerification{
			Certificate:     cert,
			SigningTime:     signingTime,
			DigestAlgorithm: hashAlg,
			Timestamped:     s.TimeStampToken() != nil,
		})
	}

	result.SignerCert = result.Signers[0].Certificate
	result.SigningTime = result.Signers[0].SigningTime
	return result, nil
}

// verifyChain verifies cert against the configured roots, using the
// message certificates as additional intermediates.
func (m *SignedMessage) verifyChain(cert *x509.Certificate, config *VerifyConfig, at time.Time) error {
	intermediates := x509.NewCertPool()
	if config.Intermediates != nil {
		intermediates = config.Intermediates.Clone()
	}
	for _, c := range m.Certificates {
		if !c.Equal(cert) {
			intermediates.AddCert(c)
		}
	}

	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         config.Roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// verifySigner verifies a single SignerInfo against its certificate.
func verifySigner(s *SignerRecord, cert *x509.Certificate, content []byte) error {
	hashAlg, err := s.Hash()
	if err != nil {
		return err
	}

	if err := validateKeyMatch(cert.PublicKey, s.SignatureAlgorithm.Algorithm); err != nil {
		return err
	}

	if len(s.SignedAttrs) == 0 {
		// No signed attributes: the signature covers the content directly
		return verifySignatureBytes(content, s.Signature, cert, hashAlg)
	}

	contentDigest, err := computeDigest(content, hashAlg)
	if err != nil {
		return fmt.Errorf("failed to compute content digest: %w", err)
	}

	attr, ok := findAttribute(s.SignedAttrs, OIDMessageDigest)
	if !ok {
		return fmt.Errorf("%w: message-digest", ErrMissingAttribute)
	}
	var md []byte
	if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &md); err != nil {
		return fmt.Errorf("failed to parse message digest: %w", err)
	}
	if !bytes.Equal(md, contentDigest) {
		return errors.New("message digest mismatch")
	}

	return verifySignatureBytes(s.signedAttrsForVerify(), s.Signature, cert, hashAlg)
}

// verifySignatureBytes verifies a signature over data.
func verifySignatureBytes(data, signature []byte, cert *x509.Certificate, hashAlg crypto.Hash) error {
	switch pubKey := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		digest, err := computeDigest(data, hashAlg)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pubKey, digest, signature) {
			return errors.New("ECDSA signature verification failed")
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(pubKey, data, signature) {
			return errors.New("Ed25519 signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		digest, err := computeDigest(data, hashAlg)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pubKey, hashAlg, digest, signature); err != nil {
			return fmt.Errorf("RSA signature verification failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: public key %T", ErrUnsupportedAlgorithm, cert.PublicKey)
	}
}

// validateKeyMatch rejects a declared signature algorithm that does not
// belong to the certificate key type.
func validateKeyMatch(pub crypto.PublicKey, sigAlg asn1.ObjectIdentifier) error {
	var ok bool
	switch pub.(type) {
	case *ecdsa.PublicKey:
		ok = oidIn(sigAlg, OIDECDSAWithSHA256, OIDECDSAWithSHA384, OIDECDSAWithSHA512,
			OIDECDSAWithSHA3_256, OIDECDSAWithSHA3_384, OIDECDSAWithSHA3_512)
	case ed25519.PublicKey:
		ok = sigAlg.Equal(OIDEd25519)
	case *rsa.PublicKey:
		ok = oidIn(sigAlg, OIDRSAEncryption, OIDSHA256WithRSA, OIDSHA384WithRSA, OIDSHA512WithRSA)
	default:
		return fmt.Errorf("%w: public key %T", ErrUnsupportedAlgorithm, pub)
	}
	if !ok {
		return fmt.Errorf("signature algorithm %v does not match %T", sigAlg, pub)
	}
	return nil
}

func oidIn(oid asn1.ObjectIdentifier, set ...asn1.ObjectIdentifier) bool {
	for _, o := range set {
		if oid.Equal(o) {
			return true
		}
	}
	return false
}

// oidToHash converts a hash algorithm OID to crypto.Hash.
func oidToHash(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(OIDSHA3_384):
		return crypto.SHA3_384, nil
	case oid.Equal(OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, oid)
	}
}
