// Package verify checks CMS signatures through a signing provider, retrying
// with a fixed list of alternative interpretations when the provider does
// not recognize the signature structure.
package verify

import (
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
)

// Mode is attached or detached verification.
type Mode int

const (
	// Attached verifies content carried inside the signature.
	Attached Mode = iota
	// Detached verifies against a separately supplied document.
	Detached
)

func (m Mode) String() string {
	if m == Detached {
		return "detached"
	}
	return "attached"
}

// Strategy is one interpretation of the input tried against the provider.
type Strategy int

const (
	// Primary uses the canonical flags for the mode.
	Primary Strategy = iota
	// IgnoreCertTime skips the signer certificate validity period check.
	IgnoreCertTime
	// BinaryDER hands the decoded binary signature to the provider.
	BinaryDER
	// AssumeAttached ignores the supplied document and reads the content
	// from the signature.
	AssumeAttached
)

// fallbackStrategies is the ordered list tried after an unrecognized
// structure on the primary attempt.
var fallbackStrategies = [...]Strategy{IgnoreCertTime, BinaryDER, AssumeAttached}

// FallbackStrategies returns the fallback order.
func FallbackStrategies() []Strategy {
	out := make([]Strategy, len(fallbackStrategies))
	copy(out, fallbackStrategies[:])
	return out
}

func (s Strategy) String() string {
	switch s {
	case Primary:
		return "primary"
	case IgnoreCertTime:
		return "ignore-cert-time"
	case BinaryDER:
		return "binary-der"
	case AssumeAttached:
		return "assume-attached"
	default:
		return "unknown"
	}
}

// call is the provider input for one strategy.
type call struct {
	content   []byte
	signature []byte
	flags     provider.Flags
}

// plan builds the provider call of s for a normalized signature.
func (s Strategy) plan(sig *payload.Normalized, original []byte, mode Mode) call {
	base := provider.SignCMS | provider.InputBase64 | provider.OutputPEM
	c := call{content: original, signature: []byte(sig.Text), flags: base}
	if mode == Detached {
		c.flags |= provider.DetachedData
	}

	switch s {
	case IgnoreCertTime:
		c.flags |= provider.NoCheckCertTime
	case BinaryDER:
		c.signature = sig.Bytes
		c.flags = provider.SignCMS | provider.InputDER | provider.OutputDER
		if mode == Detached {
			c.flags |= provider.DetachedData
		}
	case AssumeAttached:
		c.content = nil
		c.flags = base
	}
	return c
}
