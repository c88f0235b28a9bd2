package keystore

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/remiblancher/qsign/internal/provider"
)

// LoadPKCS12 decodes a PKCS#12 container holding one private key, its
// certificate and optionally CA certificates.
func LoadPKCS12(data []byte, password string) (*provider.Identity, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
		}
		return nil, fmt.Errorf("failed to decode PKCS#12 keystore: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrNoPrivateKey, key)
	}
	if cert == nil {
		return nil, ErrNoCertificate
	}

	// Some containers list the leaf among the CA certificates.
	leaf, chain, err := selectLeaf(signer, append([]*x509.Certificate{cert}, caCerts...))
	if err != nil {
		return nil, err
	}

	return provider.NewIdentity(provider.StoragePKCS12, leaf, chain, signer, nil), nil
}

// EncodePKCS12 builds a PKCS#12 container. It is used to export identities
// and to build test fixtures.
func EncodePKCS12(key crypto.PrivateKey, cert *x509.Certificate, caCerts []*x509.Certificate, password string) ([]byte, error) {
	data, err := pkcs12.Modern.Encode(key, cert, caCerts, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12 keystore: %w", err)
	}
	return data, nil
}
