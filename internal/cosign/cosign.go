package cosign

import (
	"context"
	"fmt"
	"log"

	"github.com/remiblancher/qsign/internal/cms"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
)

// Signer produces a CMS signature with an already loaded identity.
// provider.Session implements it.
type Signer interface {
	Sign(ctx context.Context, content []byte, flags provider.Flags) ([]byte, error)
}

// Request describes one co-signing operation.
type Request struct {
	// ExistingCMS is the base64 or PEM encoded signature to extend.
	ExistingCMS string

	// Original is the signed content. When nil it is recovered from
	// ExistingCMS.
	Original []byte

	// NoTimestamp disables the signature timestamp of the new signer.
	NoTimestamp bool
}

// CoSigner runs the co-signing workflow.
type CoSigner struct {
	Signer    Signer
	Extractor ContentExtractor
	Logger    *log.Logger
}

func (c *CoSigner) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// AddCoSignature normalizes the existing signature, recovers its content
// when needed, signs the content and composes the result.
func (c *CoSigner) AddCoSignature(ctx context.Context, req *Request) (*Composition, error) {
	n, err := payload.Normalize(req.ExistingCMS)
	if err != nil {
		return nil, err
	}
	if !payload.IsCMSStructured(n) && !cms.IsSignedData(n.Bytes) {
		return nil, ErrNotCMS
	}

	existing, err := cms.Parse(n.Bytes)
	if err != nil {
		return nil, err
	}
	c.logf("existing signers: %d", len(existing.Signers))

	original := req.Original
	if original == nil {
		if c.Extractor == nil {
			return nil, fmt.Errorf("%w: no content extractor configured", ErrContentRecovery)
		}
		if original, err = RecoverOriginalContent(ctx, c.Extractor, n.Bytes); err != nil {
			return nil, err
		}
	}

	flags := provider.SignCMS | provider.OutputDER
	if !req.NoTimestamp {
		flags |= provider.WithTimestamp
	}
	freshDER, err := c.Signer.Sign(ctx, original, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to create new signature: %w", err)
	}
	fresh, err := cms.Parse(freshDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse new signature: %w", err)
	}

	comp, err := Compose(existing, fresh, original)
	if err != nil {
		return nil, err
	}
	for _, w := range comp.Warnings {
		c.logf("co-sign warning: %s", w)
	}
	c.logf("merged CMS created, total signers: %d", comp.SignersAfter)
	return comp, nil
}
