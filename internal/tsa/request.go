package tsa

import (
	"crypto"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/remiblancher/qsign/internal/cms"
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// ParseRequest parses a DER-encoded TimeStampReq.
func ParseRequest(data []byte) (*TimeStampReq, error) {
	var req TimeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if len(rest) > 0 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: trailing data", ErrInvalidRequest))
	}
	if req.Version != 1 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unsupported TSP version %d", ErrInvalidRequest, req.Version))
	}

	h, err := oidToHash(req.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return nil, NewTSAError("parse", err)
	}
	if len(req.MessageImprint.HashedMessage) != h.Size() {
		return nil, NewTSAError("parse", fmt.Errorf("%w: hash length %d, expected %d",
			ErrInvalidRequest, len(req.MessageImprint.HashedMessage), h.Size()))
	}

	return &req, nil
}

// HashAlgorithm returns the crypto.Hash for the message imprint.
func (r *TimeStampReq) HashAlgorithm() (crypto.Hash, error) {
	return oidToHash(r.MessageImprint.HashAlgorithm.Algorithm)
}

// oidToHash converts a hash algorithm OID to crypto.Hash.
func oidToHash(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(cms.OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(cms.OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(cms.OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(cms.OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(cms.OIDSHA3_384):
		return crypto.SHA3_384, nil
	case oid.Equal(cms.OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, oid)
	}
}

// hashToOID converts crypto.Hash to an algorithm OID.
func hashToOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return cms.OIDSHA256, nil
	case crypto.SHA384:
		return cms.OIDSHA384, nil
	case crypto.SHA512:
		return cms.OIDSHA512, nil
	case crypto.SHA3_256:
		return cms.OIDSHA3_256, nil
	case crypto.SHA3_384:
		return cms.OIDSHA3_384, nil
	case crypto.SHA3_512:
		return cms.OIDSHA3_512, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, h)
	}
}

// CreateRequest creates a TimeStampReq over data. A random 64-bit nonce is
// attached when withNonce is set.
func CreateRequest(data []byte, hashAlg crypto.Hash, withNonce, certReq bool) (*TimeStampReq, error) {
	oid, err := hashToOID(hashAlg)
	if err != nil {
		return nil, NewTSAError("request", err)
	}
	if !hashAlg.Available() {
		return nil, NewTSAError("request", fmt.Errorf("%w: %v not linked", ErrUnsupportedHashAlgorithm, hashAlg))
	}

	h := hashAlg.New()
	h.Write(data)

	req := &TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oid},
			HashedMessage: h.Sum(nil),
		},
		CertReq: certReq,
	}

	if withNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, NewTSAError("request", fmt.Errorf("failed to generate nonce: %w", err))
		}
		req.Nonce = nonce
	}

	return req, nil
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}
