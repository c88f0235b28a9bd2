package cms

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// ContentInfo represents the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// signedData is the wire form of CMS SignedData (RFC 5652 Section 5).
// SignerInfos is kept raw so that signer order and encoding survive a
// parse/encode round trip untouched.
type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     rawImplicit `asn1:"optional,tag:0"`
	CRLs             rawImplicit `asn1:"optional,tag:1"`
	SignerInfos      asn1.RawValue
}

// rawImplicit captures an IMPLICIT [n] SET OF element verbatim, tag included.
type rawImplicit struct {
	Raw asn1.RawContent
}

// EncapsulatedContentInfo represents the content being signed (RFC 5652 Section 5.2).
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// signerInfo is the wire form of SignerInfo (RFC 5652 Section 5.3).
type signerInfo struct {
	Raw                asn1.RawContent
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        rawImplicit `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      rawImplicit `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// NewAttribute creates a new attribute with a single value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// NewContentTypeAttr creates a content-type attribute.
func NewContentTypeAttr(contentType asn1.ObjectIdentifier) (Attribute, error) {
	return NewAttribute(OIDContentType, contentType)
}

// NewMessageDigestAttr creates a message-digest attribute.
func NewMessageDigestAttr(digest []byte) (Attribute, error) {
	return NewAttribute(OIDMessageDigest, digest)
}

// NewSigningTimeAttr creates a signing-time attribute.
func NewSigningTimeAttr(t time.Time) (Attribute, error) {
	return NewAttribute(OIDSigningTime, t.UTC())
}

// NewTimeStampTokenAttr creates an id-aa-signatureTimeStampToken attribute
// holding a DER encoded RFC 3161 token.
func NewTimeStampTokenAttr(token []byte) Attribute {
	return Attribute{
		Type:   OIDSignatureTimeStampToken,
		Values: []asn1.RawValue{{FullBytes: token}},
	}
}

// MarshalSignedAttrs marshals signed attributes for signing.
// Per RFC 5652, signed attributes are DER-encoded as a SET OF, so the
// encoded elements are sorted.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	inner, err := marshalAttributeSet(attrs)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: inner})
}

// marshalImplicitAttrs encodes attrs as an IMPLICIT [tag] SET OF Attribute.
func marshalImplicitAttrs(attrs []Attribute, tag int) ([]byte, error) {
	inner, err := marshalAttributeSet(attrs)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, IsCompound: true, Bytes: inner})
}

func marshalAttributeSet(attrs []Attribute) ([]byte, error) {
	encoded := make([][]byte, 0, len(attrs))
	for _, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute %v: %w", attr.Type, err)
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	return bytes.Join(encoded, nil), nil
}

// parseAttributes decodes the body of a [n] IMPLICIT SET OF Attribute.
func parseAttributes(raw []byte) ([]Attribute, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wrapper asn1.RawValue
	if _, err := asn1.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	var attrs []Attribute
	rest := wrapper.Bytes
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// findAttribute returns the first attribute with the given type.
func findAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (Attribute, bool) {
	for _, attr := range attrs {
		if attr.Type.Equal(oid) && len(attr.Values) > 0 {
			return attr, true
		}
	}
	return Attribute{}, false
}

// concatRaw joins DER elements into the body of a constructed value.
func concatRaw(elems [][]byte) []byte {
	return bytes.Join(elems, nil)
}

// splitElements splits the body of a constructed value into its DER elements.
func splitElements(body []byte) ([]asn1.RawValue, error) {
	var out []asn1.RawValue
	for len(body) > 0 {
		var rv asn1.RawValue
		rest, err := asn1.Unmarshal(body, &rv)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
		body = rest
	}
	return out, nil
}
