package tsa

import (
	"context"
	"crypto"
	"crypto/subtle"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/qsign/internal/cms"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// Token is a parsed timestamp token.
type Token struct {
	Info *TSTInfo
	// SignedData is the DER CMS SignedData wrapping the TSTInfo.
	SignedData []byte
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData).
func ParseToken(data []byte) (*Token, error) {
	msg, err := cms.Parse(data)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	if !msg.ContentType.Equal(cms.OIDTSTInfo) {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unexpected content type %v", ErrInvalidToken, msg.ContentType))
	}
	if msg.Detached {
		return nil, NewTSAError("parse", fmt.Errorf("%w: no TSTInfo", ErrInvalidToken))
	}

	var info TSTInfo
	rest, err := asn1.Unmarshal(msg.Content, &info)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: failed to parse TSTInfo: %v", ErrInvalidToken, err))
	}
	if len(rest) > 0 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: trailing data after TSTInfo", ErrInvalidToken))
	}

	return &Token{Info: &info, SignedData: data}, nil
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the serial number of the token.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// HashAlgorithm returns the hash algorithm used in the message imprint.
func (t *Token) HashAlgorithm() (crypto.Hash, error) {
	if t.Info == nil {
		return 0, NewTSAError("verify", ErrInvalidToken)
	}
	return oidToHash(t.Info.MessageImprint.HashAlgorithm.Algorithm)
}

// VerifyConfig contains options for verifying a timestamp token.
type VerifyConfig struct {
	// Roots is the pool of trusted CA certificates; nil skips chain checks.
	Roots *x509.CertPool
	// Data is the timestamped data; its hash must match the imprint.
	Data []byte
}

// Verify checks the token signature and, when Data is set, the message imprint.
func (t *Token) Verify(ctx context.Context, config *VerifyConfig) (*x509.Certificate, error) {
	if config == nil {
		config = &VerifyConfig{}
	}

	res, err := cms.Verify(ctx, t.SignedData, &cms.VerifyConfig{
		Roots:         config.Roots,
		SkipTimeCheck: true,
	})
	if err != nil {
		return nil, NewTSAError("verify", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	if config.Data != nil {
		if err := t.checkImprint(config.Data); err != nil {
			return nil, err
		}
	}

	return res.SignerCert, nil
}

func (t *Token) checkImprint(data []byte) error {
	h, err := t.HashAlgorithm()
	if err != nil {
		return err
	}
	if !h.Available() {
		return NewTSAError("verify", fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, h))
	}
	hasher := h.New()
	hasher.Write(data)
	if subtle.ConstantTimeCompare(hasher.Sum(nil), t.Info.MessageImprint.HashedMessage) != 1 {
		return NewTSAError("verify", ErrHashMismatch)
	}
	return nil
}
