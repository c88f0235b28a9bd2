// Package payload normalizes signature and keystore payloads received as text.
//
// Payloads arrive as base64, optionally wrapped in PEM armor
// ("-----BEGIN CMS-----" or "-----BEGIN PKCS7-----"). Both forms decode
// through the same path so that callers never need to know which one
// they were given.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode indicates that a payload is not valid base64 after cleaning.
// It is a client input error and never comes from CMS parsing or a provider.
var ErrDecode = errors.New("invalid base64 payload")

// DecodeError carries the position of the first invalid character.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns ErrDecode so that errors.Is works on the wrapper.
func (e *DecodeError) Unwrap() error { return ErrDecode }

// PEM armor markers.
const (
	beginMarker = "-----BEGIN"
	endMarker   = "-----END"
)

// PEM labels accepted and produced for CMS payloads.
const (
	LabelCMS   = "CMS"
	LabelPKCS7 = "PKCS7"
)

// Normalized is a cleaned and decoded payload.
type Normalized struct {
	// Bytes is the decoded binary payload.
	Bytes []byte

	// Text is the cleaned base64 text (no armor, no whitespace).
	Text string

	// HadPEMArmor reports whether the raw input carried a BEGIN marker.
	HadPEMArmor bool

	// Label is the PEM label of the first BEGIN line, if any.
	Label string

	// CMSMarker reports whether any BEGIN line carries a CMS or PKCS7 label.
	CMSMarker bool
}

// Normalize strips PEM armor and whitespace from raw and decodes it.
func Normalize(raw string) (*Normalized, error) {
	n := &Normalized{}

	if strings.Contains(raw, beginMarker) {
		n.HadPEMArmor = true
		n.Label = armorLabel(raw)
		n.CMSMarker = hasCMSMarker(raw)
	}
	text := clean(raw)
	n.Text = text

	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return nil, &DecodeError{Offset: int64(corrupt), Err: err}
		}
		return nil, &DecodeError{Err: err}
	}
	n.Bytes = decoded

	return n, nil
}

// clean returns raw with armor and whitespace removed, without decoding.
func clean(raw string) string {
	if strings.Contains(raw, beginMarker) {
		raw = stripArmor(raw)
	}
	return stripWhitespace(raw)
}

// DecodeString is a shorthand for Normalize(raw).Bytes.
func DecodeString(raw string) ([]byte, error) {
	n, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return n.Bytes, nil
}

// stripArmor drops every line holding a BEGIN or END marker and joins the rest.
func stripArmor(raw string) string {
	lines := strings.Split(raw, "\n")
	var b strings.Builder
	for _, line := range lines {
		if strings.Contains(line, beginMarker) || strings.Contains(line, endMarker) {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// armorLabel extracts X from the first "-----BEGIN X-----" line.
func armorLabel(raw string) string {
	i := strings.Index(raw, beginMarker)
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(raw[i+len(beginMarker):], " ")
	j := strings.Index(rest, "-----")
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

// signedDataOID is the DER encoding of OID 1.2.840.113549.1.7 (pkcs7 arc),
// the prefix shared by every PKCS#7 content type including SignedData.
var signedDataOID = []byte{0x06, 0x09, 0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x07}

const (
	// MinCMSLength is the shortest decoded payload classified as CMS.
	MinCMSLength = 1024

	// oidScanWindow bounds the search for the SignedData OID.
	oidScanWindow = 100
)

// IsCMSStructured reports whether a normalized payload looks like a CMS
// SignedData object. A CMS or PKCS7 marker on any BEGIN line
// short-circuits to true.
func IsCMSStructured(n *Normalized) bool {
	if n == nil {
		return false
	}
	if n.CMSMarker || (n.HadPEMArmor && isCMSLabel(n.Label)) {
		return true
	}
	return LooksLikeCMS(n.Bytes)
}

// hasCMSMarker reports whether raw text carries a CMS or PKCS7 PEM marker.
func hasCMSMarker(raw string) bool {
	return strings.Contains(raw, beginMarker+" "+LabelCMS+"-----") ||
		strings.Contains(raw, beginMarker+" "+LabelPKCS7+"-----")
}

// LooksLikeCMS applies the byte-level heuristic to decoded data: at least
// MinCMSLength bytes, a leading SEQUENCE tag and the pkcs7 OID within the
// first 100 bytes.
func LooksLikeCMS(decoded []byte) bool {
	if len(decoded) < MinCMSLength {
		return false
	}
	if decoded[0] != 0x30 {
		return false
	}
	window := decoded
	if len(window) > oidScanWindow {
		window = window[:oidScanWindow]
	}
	return bytes.Contains(window, signedDataOID)
}

func isCMSLabel(label string) bool {
	switch strings.ToUpper(label) {
	case LabelCMS, LabelPKCS7:
		return true
	}
	return false
}

// Armor encodes der as PEM with 64 character lines under the given label.
// An empty label defaults to CMS.
func Armor(der []byte, label string) string {
	if label == "" {
		label = LabelCMS
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: label, Bytes: der}))
}

// Encoding selects how binary output is rendered as text.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingPEM    Encoding = "pem"
)

// ParseEncoding parses an output encoding name; empty means base64.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base64", "b64":
		return EncodingBase64, nil
	case "pem":
		return EncodingPEM, nil
	default:
		return "", fmt.Errorf("unsupported output encoding: %s", s)
	}
}

// Encode renders der using enc.
func Encode(der []byte, enc Encoding) string {
	if enc == EncodingPEM {
		return Armor(der, LabelCMS)
	}
	return base64.StdEncoding.EncodeToString(der)
}
