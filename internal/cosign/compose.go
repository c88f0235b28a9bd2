// Package cosign adds signatures to existing CMS SignedData objects.
//
// A co-signature is added by recovering the content the existing signers
// signed, signing it again with a fresh identity, and composing one
// SignedData that carries every signer in order.
package cosign

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/remiblancher/qsign/internal/cms"
)

// Sentinel errors for co-signing.
var (
	// ErrEmptyContent indicates the content to compose over is empty.
	ErrEmptyContent = errors.New("original content is empty")

	// ErrContentRecovery indicates the signed content could not be recovered
	// from an existing CMS.
	ErrContentRecovery = errors.New("failed to recover original content")

	// ErrCompositionMismatch reports a composed signer count different from
	// the existing count plus one. It is a warning; the artifact is kept.
	ErrCompositionMismatch = errors.New("composed signer count mismatch")

	// ErrContentMismatch indicates the content to compose over differs from
	// the content the existing signers signed.
	ErrContentMismatch = errors.New("original content differs from the signed content")

	// ErrNotCMS indicates the existing signature is not a CMS SignedData.
	ErrNotCMS = errors.New("existing signature is not a CMS SignedData")
)

// Composition is the result of Compose.
type Composition struct {
	Message *cms.SignedMessage
	Encoded []byte

	SignersBefore int
	SignersAfter  int

	// Mismatch is set when SignersAfter != SignersBefore+1.
	Mismatch bool

	// Warnings lists non-fatal problems found while composing.
	Warnings []string
}

// Compose builds a SignedData holding original as encapsulated content, the
// signers of existing in order and then the single signer of fresh.
// Certificates of both are merged without duplicates. For an attached
// existing signature, original must equal its encapsulated content.
func Compose(existing, fresh *cms.SignedMessage, original []byte) (*Composition, error) {
	if existing == nil || len(existing.Signers) == 0 {
		return nil, cms.NewCMSError("compose", fmt.Errorf("%w: existing signature has no signers", cms.ErrInvalidStructure))
	}
	if fresh == nil || len(fresh.Signers) != 1 {
		return nil, cms.NewCMSError("compose", fmt.Errorf("%w: fresh signature must have exactly one signer", cms.ErrInvalidStructure))
	}
	if len(original) == 0 {
		return nil, ErrEmptyContent
	}
	if !existing.Detached && !bytes.Equal(existing.Content, original) {
		return nil, ErrContentMismatch
	}

	content := make([]byte, len(original))
	copy(content, original)

	out := &cms.SignedMessage{
		ContentType: existing.ContentType,
		Content:     content,
	}
	for _, s := range existing.Signers {
		out.AddSigner(s)
	}
	out.AddSigner(fresh.Signers[0])

	out.MergeCertificates(existing)
	out.MergeCertificates(fresh)
	out.CRLs = append(append(out.CRLs, existing.CRLs...), fresh.CRLs...)

	c := &Composition{SignersBefore: len(existing.Signers)}
	for i, s := range out.Signers {
		if _, err := s.FindCertificate(out.Certificates); err != nil {
			c.Warnings = append(c.Warnings, fmt.Sprintf("signer %d: certificate not included: %v", i, err))
		}
	}

	encoded, err := out.Encode()
	if err != nil {
		return nil, err
	}

	// Count from the encoding, not the model, so a lossy encoder is noticed.
	parsed, err := cms.Parse(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read composed signature: %w", err)
	}

	c.Message = parsed
	c.Encoded = encoded
	c.SignersAfter = len(parsed.Signers)
	if c.SignersAfter != c.SignersBefore+1 {
		c.Mismatch = true
		c.Warnings = append(c.Warnings, fmt.Sprintf("%v: expected %d signers, got %d",
			ErrCompositionMismatch, c.SignersBefore+1, c.SignersAfter))
	}
	return c, nil
}
