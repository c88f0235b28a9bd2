package cosign

import (
	"context"
	"fmt"
)

// ContentExtractor reads the content encapsulated in a DER encoded CMS.
// provider.Session and remote.Client implement it.
type ContentExtractor interface {
	ExtractContent(ctx context.Context, cmsDER []byte) ([]byte, error)
}

// RecoverOriginalContent returns the bytes the signers of existingCMS
// signed, exactly as extracted.
func RecoverOriginalContent(ctx context.Context, ex ContentExtractor, existingCMS []byte) ([]byte, error) {
	data, err := ex.ExtractContent(ctx, existingCMS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentRecovery, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: signature carries no content", ErrContentRecovery)
	}
	return data, nil
}
