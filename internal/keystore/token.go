package keystore

import (
	"errors"
	"fmt"

	pkicrypto "github.com/remiblancher/qsign/internal/crypto"
	"github.com/remiblancher/qsign/internal/provider"
)

// TokenSource loads identities from a PKCS#11 token.
type TokenSource struct {
	Config *pkicrypto.TokenFileConfig
}

// Load opens the token with pin and returns the identity of the key named
// keyLabel, or of the configured key when keyLabel is empty.
func (t *TokenSource) Load(keyLabel, pin string) (*provider.Identity, error) {
	cfg, err := t.Config.ToTokenConfig(pin)
	if err != nil {
		return nil, err
	}
	if keyLabel != "" {
		cfg.KeyLabel = keyLabel
		cfg.KeyID = ""
	}

	signer, err := pkicrypto.NewTokenSigner(cfg)
	if err != nil {
		if errors.Is(err, pkicrypto.ErrBadPIN) {
			return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
		}
		return nil, fmt.Errorf("failed to open token: %w", err)
	}

	certs, err := signer.Certificates()
	if err != nil {
		_ = signer.Close()
		return nil, fmt.Errorf("failed to read token certificates: %w", err)
	}
	leaf, chain, err := selectLeaf(signer, certs)
	if err != nil {
		_ = signer.Close()
		return nil, err
	}

	return provider.NewIdentity(provider.StorageKazToken, leaf, chain, signer, signer), nil
}
