package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/remiblancher/qsign/internal/provider"
)

// LoadPEM loads an identity from concatenated PEM blocks: one private key
// and one or more certificates, in any order.
func LoadPEM(data, passphrase []byte) (*provider.Identity, error) {
	var (
		signer crypto.Signer
		certs  []*x509.Certificate
	)

	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		data = rest

		switch {
		case block.Type == "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			if signer != nil {
				return nil, fmt.Errorf("keystore holds more than one private key")
			}
			s, err := parsePrivateKeyBlock(block, passphrase)
			if err != nil {
				return nil, err
			}
			signer = s
		}
	}

	if signer == nil {
		return nil, ErrNoPrivateKey
	}
	leaf, chain, err := selectLeaf(signer, certs)
	if err != nil {
		return nil, err
	}
	return provider.NewIdentity(provider.StoragePEM, leaf, chain, signer, nil), nil
}

// parsePrivateKeyBlock parses a PEM private key, decrypting legacy
// encrypted blocks with passphrase.
func parsePrivateKeyBlock(block *pem.Block, passphrase []byte) (crypto.Signer, error) {
	keyBytes := block.Bytes

	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: key is encrypted but no passphrase provided", ErrBadPassword)
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			if errors.Is(err, x509.IncorrectPasswordError) {
				return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
			}
			return nil, fmt.Errorf("failed to decrypt key: %w", err)
		}
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(keyBytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(keyBytes)
	default:
		return nil, fmt.Errorf("unsupported PEM type: %s", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", strings.ToLower(block.Type), err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrNoPrivateKey, key)
	}
	return signer, nil
}
