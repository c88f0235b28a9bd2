// Package crypto provides access to signing keys held on PKCS#11 tokens.
package crypto

import (
	"crypto"
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// errNoCGO is returned by token operations in builds without cgo.
var errNoCGO = errors.New("PKCS#11 token support requires a cgo build")

// parseECParams parses EC parameters and returns the curve and algorithm name.
func parseECParams(params []byte) (elliptic.Curve, string, error) {
	// EC params are a DER encoded OID
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, "", fmt.Errorf("failed to parse EC params OID: %w", err)
	}

	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), "ecdsa-p256", nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), "ecdsa-p384", nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), "ecdsa-p521", nil
	default:
		return nil, "", fmt.Errorf("unsupported EC curve OID: %v", oid)
	}
}

// unwrapECPoint strips a DER OCTET STRING around an uncompressed EC point.
func unwrapECPoint(point []byte) []byte {
	if len(point) > 2 && point[0] == 0x04 {
		length := int(point[1])
		switch {
		case length < 128:
			if len(point) >= 2+length && point[2] == 0x04 {
				return point[2 : 2+length]
			}
		case length == 0x81 && len(point) > 3:
			actualLen := int(point[2])
			if len(point) >= 3+actualLen && point[3] == 0x04 {
				return point[3 : 3+actualLen]
			}
		}
	}
	return point
}

// bytesToUint converts a native byte order CK_ULONG to uint.
// Not for big integer attributes such as CKA_PUBLIC_EXPONENT.
func bytesToUint(b []byte) uint {
	var result uint
	for i := len(b) - 1; i >= 0; i-- {
		result = result<<8 | uint(b[i])
	}
	return result
}

// DigestInfo prefixes for PKCS#1 v1.5 signatures (RFC 8017)
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// addDigestInfoPrefix adds the DigestInfo prefix for CKM_RSA_PKCS.
func addDigestInfoPrefix(digest []byte, hash crypto.Hash) ([]byte, error) {
	prefix, ok := digestInfoPrefixes[hash]
	if !ok {
		return nil, fmt.Errorf("no DigestInfo prefix for %v", hash)
	}
	result := make([]byte, len(prefix)+len(digest))
	copy(result, prefix)
	copy(result[len(prefix):], digest)
	return result, nil
}

// convertECDSASignature converts a raw r||s ECDSA signature to ASN.1 DER.
func convertECDSASignature(rawSig []byte) ([]byte, error) {
	if len(rawSig) == 0 || len(rawSig)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length")
	}

	n := len(rawSig) / 2
	r := new(big.Int).SetBytes(rawSig[:n])
	s := new(big.Int).SetBytes(rawSig[n:])

	return asn1.Marshal(struct {
		R, S *big.Int
	}{r, s})
}
