package cms

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// SignedMessage is a parsed CMS SignedData object.
//
// Signers are kept in insertion order, which is the co-signing order. Each
// SignerRecord holds the verbatim DER of its SignerInfo so that re-encoding
// a message never alters an existing signature.
type SignedMessage struct {
	// ContentType is the encapsulated content type (id-data by default).
	ContentType asn1.ObjectIdentifier

	// Content is the encapsulated content; nil when Detached.
	Content []byte

	// Detached is true when the SignedData carries no eContent.
	Detached bool

	// DigestAlgorithms is the union of all signer digest algorithms.
	DigestAlgorithms []pkix.AlgorithmIdentifier

	// Certificates holds every parseable certificate, unique by issuer and serial.
	Certificates []*x509.Certificate

	// OtherCertificates holds certificate choices x509 could not parse,
	// carried through verbatim.
	OtherCertificates [][]byte

	// CRLs holds revocation info choices, carried through verbatim.
	CRLs [][]byte

	// Signers is the ordered list of signer records.
	Signers []*SignerRecord
}

// SignerRecord is one SignerInfo of a SignedData.
type SignerRecord struct {
	// Raw is the DER encoding of the SignerInfo.
	Raw []byte

	Version            int
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	SignedAttrs        []Attribute
	UnsignedAttrs      []Attribute

	// Issuer and SerialNumber are set for issuerAndSerialNumber identifiers.
	Issuer       []byte
	SerialNumber *big.Int

	// SubjectKeyID is set for subjectKeyIdentifier identifiers.
	SubjectKeyID []byte

	sid            asn1.RawValue
	signedAttrsRaw []byte
}

// Parse decodes a DER encoded ContentInfo holding SignedData.
// Any structural problem is reported as ErrInvalidStructure.
func Parse(der []byte) (*SignedMessage, error) {
	if len(der) == 0 {
		return nil, invalidStructure("empty input")
	}

	var contentInfo ContentInfo
	rest, err := asn1.Unmarshal(der, &contentInfo)
	if err != nil {
		return nil, invalidStructure("failed to parse ContentInfo: %v", err)
	}
	if len(rest) > 0 {
		return nil, invalidStructure("trailing data after ContentInfo")
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, invalidStructure("not a SignedData structure, got OID %v", contentInfo.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &sd); err != nil {
		return nil, invalidStructure("failed to parse SignedData: %v", err)
	}

	msg := &SignedMessage{
		ContentType:      sd.EncapContentInfo.EContentType,
		DigestAlgorithms: sd.DigestAlgorithms,
	}

	if len(sd.EncapContentInfo.EContent.Bytes) == 0 {
		msg.Detached = true
	} else {
		var content []byte
		if _, err := asn1.Unmarshal(sd.EncapContentInfo.EContent.Bytes, &content); err != nil {
			return nil, invalidStructure("failed to parse eContent: %v", err)
		}
		msg.Content = content
	}

	if err := msg.parseCertificates(sd.Certificates.Raw); err != nil {
		return nil, err
	}
	if len(sd.CRLs.Raw) > 0 {
		elems, err := unwrapImplicit(sd.CRLs.Raw)
		if err != nil {
			return nil, invalidStructure("failed to parse crls: %v", err)
		}
		for _, e := range elems {
			msg.CRLs = append(msg.CRLs, e.FullBytes)
		}
	}

	if sd.SignerInfos.Tag != asn1.TagSet || !sd.SignerInfos.IsCompound {
		return nil, invalidStructure("signerInfos is not a SET")
	}
	elems, err := splitElements(sd.SignerInfos.Bytes)
	if err != nil {
		return nil, invalidStructure("failed to split signerInfos: %v", err)
	}
	for i, e := range elems {
		rec, err := parseSignerRecord(e.FullBytes)
		if err != nil {
			return nil, invalidStructure("signer %d: %v", i, err)
		}
		msg.Signers = append(msg.Signers, rec)
	}

	return msg, nil
}

// IsSignedData reports whether der parses as a CMS SignedData.
func IsSignedData(der []byte) bool {
	_, err := Parse(der)
	return err == nil
}

func (m *SignedMessage) parseCertificates(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	elems, err := unwrapImplicit(raw)
	if err != nil {
		return invalidStructure("failed to parse certificates: %v", err)
	}
	for _, e := range elems {
		if e.Class == asn1.ClassUniversal && e.Tag == asn1.TagSequence {
			if cert, err := x509.ParseCertificate(e.FullBytes); err == nil {
				m.AddCertificate(cert)
				continue
			}
		}
		m.addOtherCertificate(e.FullBytes)
	}
	return nil
}

// unwrapImplicit returns the elements of an IMPLICIT [n] SET OF.
func unwrapImplicit(raw []byte) ([]asn1.RawValue, error) {
	var wrapper asn1.RawValue
	if _, err := asn1.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	return splitElements(wrapper.Bytes)
}

func parseSignerRecord(der []byte) (*SignerRecord, error) {
	var si signerInfo
	rest, err := asn1.Unmarshal(der, &si)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after SignerInfo")
	}

	rec := &SignerRecord{
		Raw:                der,
		Version:            si.Version,
		DigestAlgorithm:    si.DigestAlgorithm,
		SignatureAlgorithm: si.SignatureAlgorithm,
		Signature:          si.Signature,
		sid:                si.SID,
		signedAttrsRaw:     si.SignedAttrs.Raw,
	}

	switch {
	case si.SID.Class == asn1.ClassUniversal && si.SID.Tag == asn1.TagSequence:
		var ias IssuerAndSerialNumber
		if _, err := asn1.Unmarshal(si.SID.FullBytes, &ias); err != nil {
			return nil, fmt.Errorf("failed to parse issuerAndSerialNumber: %w", err)
		}
		rec.Issuer = ias.Issuer.FullBytes
		rec.SerialNumber = ias.SerialNumber
	case si.SID.Class == asn1.ClassContextSpecific && si.SID.Tag == 0:
		rec.SubjectKeyID = si.SID.Bytes
	default:
		return nil, fmt.Errorf("unsupported signer identifier tag %d", si.SID.Tag)
	}

	if rec.SignedAttrs, err = parseAttributes(si.SignedAttrs.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse signed attributes: %w", err)
	}
	if rec.UnsignedAttrs, err = parseAttributes(si.UnsignedAttrs.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse unsigned attributes: %w", err)
	}

	return rec, nil
}

// Encode returns the DER encoding of the message wrapped in ContentInfo.
func (m *SignedMessage) Encode() ([]byte, error) {
	if len(m.Signers) == 0 {
		return nil, NewCMSError("encode", ErrNoSigner)
	}

	contentType := m.ContentType
	if len(contentType) == 0 {
		contentType = OIDData
	}

	sd := signedData{
		Version:          m.version(contentType),
		DigestAlgorithms: m.DigestAlgorithms,
		EncapContentInfo: EncapsulatedContentInfo{EContentType: contentType},
	}
	if len(sd.DigestAlgorithms) == 0 {
		for _, s := range m.Signers {
			sd.DigestAlgorithms = appendDigestAlgorithm(sd.DigestAlgorithms, s.DigestAlgorithm)
		}
	}

	if !m.Detached {
		octets, err := asn1.Marshal(m.Content)
		if err != nil {
			return nil, NewCMSError("encode", fmt.Errorf("failed to marshal content: %w", err))
		}
		sd.EncapContentInfo.EContent = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      octets,
		}
	}

	if certs := m.rawCertificates(); len(certs) > 0 {
		raw, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: concatRaw(certs)})
		if err != nil {
			return nil, NewCMSError("encode", err)
		}
		sd.Certificates = rawImplicit{Raw: raw}
	}
	if len(m.CRLs) > 0 {
		raw, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: concatRaw(m.CRLs)})
		if err != nil {
			return nil, NewCMSError("encode", err)
		}
		sd.CRLs = rawImplicit{Raw: raw}
	}

	signers := make([][]byte, 0, len(m.Signers))
	for _, s := range m.Signers {
		signers = append(signers, s.Raw)
	}
	sd.SignerInfos = asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: concatRaw(signers)}

	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, NewCMSError("encode", fmt.Errorf("failed to marshal SignedData: %w", err))
	}

	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
}

// version computes the SignedData version per RFC 5652 Section 5.1.
func (m *SignedMessage) version(contentType asn1.ObjectIdentifier) int {
	for _, s := range m.Signers {
		if s.Version == 3 {
			return 3
		}
	}
	if !contentType.Equal(OIDData) {
		return 3
	}
	return 1
}

func (m *SignedMessage) rawCertificates() [][]byte {
	out := make([][]byte, 0, len(m.Certificates)+len(m.OtherCertificates))
	for _, c := range m.Certificates {
		out = append(out, c.Raw)
	}
	return append(out, m.OtherCertificates...)
}

// AddCertificate adds cert unless a certificate with the same issuer and
// serial number is already present. It reports whether cert was added.
func (m *SignedMessage) AddCertificate(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	for _, c := range m.Certificates {
		if sameIssuerSerial(c, cert) {
			return false
		}
	}
	m.Certificates = append(m.Certificates, cert)
	return true
}

func (m *SignedMessage) addOtherCertificate(raw []byte) {
	for _, o := range m.OtherCertificates {
		if bytes.Equal(o, raw) {
			return
		}
	}
	m.OtherCertificates = append(m.OtherCertificates, raw)
}

// MergeCertificates adds every certificate of other, unparsed ones included.
// It returns the number of certificates added.
func (m *SignedMessage) MergeCertificates(other *SignedMessage) int {
	added := 0
	for _, c := range other.Certificates {
		if m.AddCertificate(c) {
			added++
		}
	}
	for _, o := range other.OtherCertificates {
		before := len(m.OtherCertificates)
		m.addOtherCertificate(o)
		if len(m.OtherCertificates) > before {
			added++
		}
	}
	return added
}

// AddSigner appends a signer record and records its digest algorithm.
func (m *SignedMessage) AddSigner(rec *SignerRecord) {
	m.Signers = append(m.Signers, rec)
	m.DigestAlgorithms = appendDigestAlgorithm(m.DigestAlgorithms, rec.DigestAlgorithm)
}

func appendDigestAlgorithm(algs []pkix.AlgorithmIdentifier, alg pkix.AlgorithmIdentifier) []pkix.AlgorithmIdentifier {
	for _, a := range algs {
		if a.Algorithm.Equal(alg.Algorithm) {
			return algs
		}
	}
	return append(algs, pkix.AlgorithmIdentifier{Algorithm: alg.Algorithm, Parameters: alg.Parameters})
}

func sameIssuerSerial(a, b *x509.Certificate) bool {
	return bytes.Equal(a.RawIssuer, b.RawIssuer) && a.SerialNumber.Cmp(b.SerialNumber) == 0
}

// FindCertificate returns the certificate identified by the signer record.
func (r *SignerRecord) FindCertificate(certs []*x509.Certificate) (*x509.Certificate, error) {
	for _, c := range certs {
		if r.Matches(c) {
			return c, nil
		}
	}
	return nil, ErrNoCertificate
}

// Matches reports whether cert is the certificate named by the signer identifier.
func (r *SignerRecord) Matches(cert *x509.Certificate) bool {
	if r.SerialNumber != nil {
		return bytes.Equal(cert.RawIssuer, r.Issuer) && cert.SerialNumber.Cmp(r.SerialNumber) == 0
	}
	return len(r.SubjectKeyID) > 0 && bytes.Equal(cert.SubjectKeyId, r.SubjectKeyID)
}

// SigningTime returns the signing-time signed attribute, if present.
func (r *SignerRecord) SigningTime() time.Time {
	attr, ok := findAttribute(r.SignedAttrs, OIDSigningTime)
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err != nil {
		return time.Time{}
	}
	return t
}

// TimeStampToken returns the DER timestamp token attached as an unsigned
// attribute, or nil.
func (r *SignerRecord) TimeStampToken() []byte {
	attr, ok := findAttribute(r.UnsignedAttrs, OIDSignatureTimeStampToken)
	if !ok {
		return nil
	}
	return attr.Values[0].FullBytes
}

// Hash returns the signer's digest algorithm.
func (r *SignerRecord) Hash() (crypto.Hash, error) {
	return oidToHash(r.DigestAlgorithm.Algorithm)
}

// AddUnsignedAttribute appends attr to the unsigned attributes and
// re-encodes the SignerInfo. The signature stays valid since unsigned
// attributes are outside the signed data.
func (r *SignerRecord) AddUnsignedAttribute(attr Attribute) error {
	attrs := append(append([]Attribute{}, r.UnsignedAttrs...), attr)

	unsignedRaw, err := marshalImplicitAttrs(attrs, 1)
	if err != nil {
		return fmt.Errorf("failed to marshal unsigned attributes: %w", err)
	}

	der, err := asn1.Marshal(signerInfo{
		Version:            r.Version,
		SID:                r.sid,
		DigestAlgorithm:    r.DigestAlgorithm,
		SignedAttrs:        rawImplicit{Raw: r.signedAttrsRaw},
		SignatureAlgorithm: r.SignatureAlgorithm,
		Signature:          r.Signature,
		UnsignedAttrs:      rawImplicit{Raw: unsignedRaw},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SignerInfo: %w", err)
	}

	r.Raw = der
	r.UnsignedAttrs = attrs
	return nil
}

// signedAttrsForVerify returns the DER the signature was computed over:
// the signed attributes re-tagged as a universal SET.
func (r *SignerRecord) signedAttrsForVerify() []byte {
	if len(r.signedAttrsRaw) == 0 {
		return nil
	}
	out := make([]byte, len(r.signedAttrsRaw))
	copy(out, r.signedAttrsRaw)
	out[0] = 0x31
	return out
}

// ExtractContent parses der and returns its encapsulated content.
// It fails with ErrNoContent for detached signatures.
func ExtractContent(der []byte) ([]byte, error) {
	msg, err := Parse(der)
	if err != nil {
		return nil, err
	}
	if msg.Detached {
		return nil, NewCMSError("extract", ErrNoContent)
	}
	return msg.Content, nil
}
