package verify

import (
	"errors"
	"strings"

	"github.com/remiblancher/qsign/internal/provider"
)

// Class is an advisory classification of a verification failure.
type Class string

const (
	ClassChainMissing      Class = "certificate-chain-missing"
	ClassSignatureInvalid  Class = "signature-invalid"
	ClassUnsupportedFormat Class = "unsupported-format"
	ClassGeneric           Class = "generic"
)

// Failure messages shown to users.
const (
	MsgChainMissing      = "Root/intermediate certificates not installed. Please install Kazakhstan PKI root certificates from https://pki.gov.kz/"
	MsgSignatureInvalid  = "Invalid signature or signature verification failed."
	MsgUnsupportedFormat = "Unsupported CMS signature format. The signature format is not recognized by the signing provider. " +
		"This may indicate that the signature was created with a different tool or format that is incompatible with the provider. " +
		"Please verify the signature was created using a compatible signing method."
)

// Classify maps a verification error to a class and a user-facing message.
// Unclassified errors keep their own text.
func Classify(err error) (Class, string) {
	if err == nil {
		return "", ""
	}

	switch {
	case errors.Is(err, provider.ErrChainNotFound):
		return ClassChainMissing, MsgChainMissing
	case errors.Is(err, provider.ErrUnknownFormat), errors.Is(err, provider.ErrEncode):
		return ClassUnsupportedFormat, MsgUnsupportedFormat
	case errors.Is(err, provider.ErrVerificationFailed):
		return ClassSignatureInvalid, MsgSignatureInvalid
	}

	// Providers outside this module report by message only.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "0x8f00040"), strings.Contains(msg, "not found root or intermediate certificate"):
		return ClassChainMissing, MsgChainMissing
	case strings.Contains(msg, "UNKNOWN_CMS_FORMAT"):
		// Checked before the looser "signature" match.
		return ClassUnsupportedFormat, MsgUnsupportedFormat
	case strings.Contains(msg, "0x1f"), strings.Contains(msg, "signature"):
		return ClassSignatureInvalid, MsgSignatureInvalid
	default:
		return ClassGeneric, msg
	}
}
