package cms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/sha3"
)

// SignerConfig contains options for signing.
type SignerConfig struct {
	Certificate  *x509.Certificate
	Signer       crypto.Signer
	DigestAlg    crypto.Hash
	IncludeCerts bool
	// Chain is appended to the certificate set when IncludeCerts is set.
	Chain       []*x509.Certificate
	SigningTime time.Time
	ContentType asn1.ObjectIdentifier
	// Detached omits the content from the SignedData.
	Detached bool
}

// Sign creates a CMS SignedData structure with a single signer.
func Sign(ctx context.Context, content []byte, config *SignerConfig) ([]byte, error) {
	msg, err := SignMessage(ctx, content, config)
	if err != nil {
		return nil, err
	}
	return msg.Encode()
}

// SignMessage is like Sign but returns the message model.
func SignMessage(ctx context.Context, content []byte, config *SignerConfig) (*SignedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, NewCMSError("sign", fmt.Errorf("signer config is required"))
	}
	if config.Certificate == nil {
		return nil, NewCMSError("sign", fmt.Errorf("certificate is required"))
	}
	if config.Signer == nil {
		return nil, NewCMSError("sign", fmt.Errorf("signer is required"))
	}

	digestAlg := config.DigestAlg
	if digestAlg == 0 {
		digestAlg = crypto.SHA256
	}
	signingTime := config.SigningTime
	if signingTime.IsZero() {
		signingTime = time.Now().UTC()
	}
	contentType := config.ContentType
	if len(contentType) == 0 {
		contentType = OIDData
	}

	// Compute content digest
	digest, err := computeDigest(content, digestAlg)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to compute digest: %w", err))
	}

	signedAttrs, err := buildSignedAttrs(contentType, digest, signingTime)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to build signed attributes: %w", err))
	}

	signedAttrsDER, err := MarshalSignedAttrs(signedAttrs)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to marshal signed attributes: %w", err))
	}

	signature, err := signData(signedAttrsDER, config.Signer, digestAlg)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to sign: %w", err))
	}

	digestAlgID, err := getDigestAlgorithmIdentifier(digestAlg)
	if err != nil {
		return nil, NewCMSError("sign", err)
	}
	sigAlgID, err := getSignatureAlgorithmIdentifier(config.Signer, digestAlg)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to get signature algorithm: %w", err))
	}

	sidDER, err := asn1.Marshal(IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: config.Certificate.RawIssuer},
		SerialNumber: config.Certificate.SerialNumber,
	})
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to marshal signer identifier: %w", err))
	}

	// The signed attributes travel as IMPLICIT [0]; same body as the SET that was signed.
	signedAttrsRaw := make([]byte, len(signedAttrsDER))
	copy(signedAttrsRaw, signedAttrsDER)
	signedAttrsRaw[0] = 0xA0

	si := signerInfo{
		Version:            1,
		SID:                asn1.RawValue{FullBytes: sidDER},
		DigestAlgorithm:    digestAlgID,
		SignedAttrs:        rawImplicit{Raw: signedAttrsRaw},
		SignatureAlgorithm: sigAlgID,
		Signature:          signature,
	}
	siDER, err := asn1.Marshal(si)
	if err != nil {
		return nil, NewCMSError("sign", fmt.Errorf("failed to marshal SignerInfo: %w", err))
	}

	rec, err := parseSignerRecord(siDER)
	if err != nil {
		return nil, NewCMSError("sign", err)
	}

	msg := &SignedMessage{
		ContentType: contentType,
		Detached:    config.Detached,
	}
	if !config.Detached {
		msg.Content = content
	}
	msg.AddSigner(rec)

	if config.IncludeCerts {
		msg.AddCertificate(config.Certificate)
		for _, c := range config.Chain {
			msg.AddCertificate(c)
		}
	}

	return msg, nil
}

func buildSignedAttrs(contentType asn1.ObjectIdentifier, digest []byte, signingTime time.Time) ([]Attribute, error) {
	ctAttr, err := NewContentTypeAttr(contentType)
	if err != nil {
		return nil, err
	}

	mdAttr, err := NewMessageDigestAttr(digest)
	if err != nil {
		return nil, err
	}

	stAttr, err := NewSigningTimeAttr(signingTime)
	if err != nil {
		return nil, err
	}

	return []Attribute{ctAttr, mdAttr, stAttr}, nil
}

func newHash(alg crypto.Hash) (hash.Hash, error) {
	switch alg {
	case crypto.SHA256:
		return sha256.New(), nil
	case crypto.SHA384:
		return sha512.New384(), nil
	case crypto.SHA512:
		return sha512.New(), nil
	case crypto.SHA3_256:
		return sha3.New256(), nil
	case crypto.SHA3_384:
		return sha3.New384(), nil
	case crypto.SHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: digest %v", ErrUnsupportedAlgorithm, alg)
	}
}

func computeDigest(data []byte, alg crypto.Hash) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func signData(data []byte, signer crypto.Signer, digestAlg crypto.Hash) ([]byte, error) {
	switch signer.Public().(type) {
	case ed25519.PublicKey:
		// Ed25519 signs the message itself
		return signer.Sign(rand.Reader, data, crypto.Hash(0))
	case *ecdsa.PublicKey, *rsa.PublicKey:
		digest, err := computeDigest(data, digestAlg)
		if err != nil {
			return nil, err
		}
		return signer.Sign(rand.Reader, digest, digestAlg)
	default:
		return nil, fmt.Errorf("%w: public key %T", ErrUnsupportedAlgorithm, signer.Public())
	}
}

func getDigestAlgorithmIdentifier(alg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch alg {
	case crypto.SHA256:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256}, nil
	case crypto.SHA384:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384}, nil
	case crypto.SHA512:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512}, nil
	case crypto.SHA3_256:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA3_256}, nil
	case crypto.SHA3_384:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA3_384}, nil
	case crypto.SHA3_512:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA3_512}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: digest %v", ErrUnsupportedAlgorithm, alg)
	}
}

func getSignatureAlgorithmIdentifier(signer crypto.Signer, digestAlg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		switch digestAlg {
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA384}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA512}, nil
		case crypto.SHA3_256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA3_256}, nil
		case crypto.SHA3_384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA3_384}, nil
		case crypto.SHA3_512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA3_512}, nil
		default:
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported ECDSA digest: %v", digestAlg)
		}
	case ed25519.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	case *rsa.PublicKey:
		switch digestAlg {
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256WithRSA}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384WithRSA}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512WithRSA}, nil
		default:
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported RSA digest: %v", digestAlg)
		}
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: public key %T", ErrUnsupportedAlgorithm, signer.Public())
	}
}

// ParseHashName maps a CLI/config digest name to a crypto.Hash.
func ParseHashName(name string) (crypto.Hash, error) {
	switch name {
	case "", "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	case "sha3-256":
		return crypto.SHA3_256, nil
	case "sha3-384":
		return crypto.SHA3_384, nil
	case "sha3-512":
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, name)
	}
}
