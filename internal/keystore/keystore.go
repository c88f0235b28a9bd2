// Package keystore loads signing identities from PKCS#12 files, PEM bundles
// and PKCS#11 hardware tokens.
package keystore

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/remiblancher/qsign/internal/provider"
)

// Sentinel errors for keystore loading.
var (
	// ErrBadPassword indicates a wrong password or PIN, or a corrupted container.
	ErrBadPassword = errors.New("invalid keystore password")

	// ErrEmptyKeystore indicates no keystore bytes were supplied.
	ErrEmptyKeystore = errors.New("empty keystore")

	// ErrNoPrivateKey indicates the keystore holds no usable private key.
	ErrNoPrivateKey = errors.New("no private key in keystore")

	// ErrNoCertificate indicates the keystore holds no certificate for its key.
	ErrNoCertificate = errors.New("no certificate matching the private key")

	// ErrNoTokenConfig indicates token storage was requested without a
	// token configuration.
	ErrNoTokenConfig = errors.New("token storage requires a PKCS#11 configuration")
)

// Loader loads identities. The zero value handles PKCS12 and PEM only.
type Loader struct {
	// Token describes the PKCS#11 module used for KAZTOKEN storage.
	Token *TokenSource
}

// Load decodes blob according to kind. For KAZTOKEN storage, password is
// the token PIN and blob optionally holds the key label.
func (l *Loader) Load(ctx context.Context, kind provider.StorageKind, blob []byte, password string) (*provider.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch kind {
	case provider.StorageKazToken:
		if l == nil || l.Token == nil {
			return nil, ErrNoTokenConfig
		}
		return l.Token.Load(strings.TrimSpace(string(blob)), password)
	case provider.StoragePEM:
		if len(blob) == 0 {
			return nil, ErrEmptyKeystore
		}
		return LoadPEM(blob, []byte(password))
	default:
		if len(blob) == 0 {
			return nil, ErrEmptyKeystore
		}
		return LoadPKCS12(blob, password)
	}
}

// selectLeaf returns the certificate whose public key matches signer, and
// the remaining certificates as the chain.
func selectLeaf(signer crypto.Signer, certs []*x509.Certificate) (*x509.Certificate, []*x509.Certificate, error) {
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	for i, c := range certs {
		if bytes.Equal(c.RawSubjectPublicKeyInfo, pub) {
			chain := make([]*x509.Certificate, 0, len(certs)-1)
			chain = append(chain, certs[:i]...)
			chain = append(chain, certs[i+1:]...)
			return c, chain, nil
		}
	}
	return nil, nil, ErrNoCertificate
}
