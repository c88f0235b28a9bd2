// Package service implements the document signing operations exposed by the
// HTTP API and the CLI: single and batch signing, certificate inspection,
// verification, co-signing and content extraction.
package service

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/remote"
	"github.com/remiblancher/qsign/internal/verify"
)

// ErrRemoteDisabled indicates no remote verification backend is configured.
var ErrRemoteDisabled = errors.New("remote verification backend is not configured")

// ChainMissingHelp is prepended to keystore errors caused by missing PKI
// root or intermediate certificates.
const ChainMissingHelp = "Root/intermediate certificates not installed. Please install Kazakhstan PKI root certificates from https://pki.gov.kz/. Error: "

// MsgBadPassword replaces keystore errors caused by a wrong password.
const MsgBadPassword = "Invalid password or corrupted keystore file."

// KeystoreError is a keystore failure with a user facing message.
type KeystoreError struct {
	Message string
	Err     error
}

func (e *KeystoreError) Error() string { return e.Message }
func (e *KeystoreError) Unwrap() error { return e.Err }

// FriendlyKeystoreError rewrites known keystore failures into actionable
// messages. Unknown errors keep their text.
func FriendlyKeystoreError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "0x8f00040") || strings.Contains(msg, provider.ErrChainNotFound.Error()):
		return ChainMissingHelp + msg
	case strings.Contains(msg, "password") || strings.Contains(msg, "0x03"):
		return MsgBadPassword
	default:
		return msg
	}
}

// Config configures a Service.
type Config struct {
	Handle *provider.Handle

	// Remote is the optional REST verification backend.
	Remote *remote.Client

	// RemoteExtraction lets co-signing and extraction fall back to Remote
	// when the provider cannot read the content.
	RemoteExtraction bool

	Logger *log.Logger
}

// Service runs document operations against one signing provider.
type Service struct {
	handle           *provider.Handle
	engine           *verify.Engine
	remote           *remote.Client
	remoteExtraction bool
	logger           *log.Logger
}

// New creates a Service. A nil logger discards output.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		handle:           cfg.Handle,
		engine:           verify.NewEngine(cfg.Handle, logger),
		remote:           cfg.Remote,
		remoteExtraction: cfg.RemoteExtraction,
		logger:           logger,
	}
}

// CertificateInfo describes a signing certificate.
type CertificateInfo struct {
	Subject      string `json:"subject"`
	Issuer       string `json:"issuer"`
	SerialNumber string `json:"serialNumber"`
	ValidFrom    string `json:"validFrom"`
	ValidTo      string `json:"validTo"`
}

// loadIdentity decodes and loads a keystore into sess and audits the load.
func (s *Service) loadIdentity(ctx context.Context, sess *provider.Session, keystoreB64, password, storage string) (*provider.Identity, error) {
	kind := provider.ParseStorageKind(storage)

	blob, err := payload.DecodeString(keystoreB64)
	if err != nil {
		err = fmt.Errorf("invalid keystore encoding: %w", err)
		_ = audit.LogKeystoreLoaded(string(kind), "", "", err)
		return nil, err
	}

	id, err := sess.LoadIdentity(ctx, kind, blob, password)
	if err != nil {
		_ = audit.LogKeystoreLoaded(string(kind), "", "", err)
		return nil, err
	}
	if err := audit.LogKeystoreLoaded(string(kind), id.Certificate.Subject.String(), id.Certificate.SerialNumber.Text(16), nil); err != nil {
		return nil, err
	}
	return id, nil
}

type certField struct {
	prop provider.CertProperty
	dst  *string
}

// certificateInfo reads the display fields of cert through the provider.
func certificateInfo(sess *provider.Session, cert *x509.Certificate) (*CertificateInfo, error) {
	info := &CertificateInfo{}
	fields := []certField{
		{provider.SubjectCommonName, &info.Subject},
		{provider.IssuerCommonName, &info.Issuer},
		{provider.SubjectSerialNumber, &info.SerialNumber},
		{provider.NotBefore, &info.ValidFrom},
		{provider.NotAfter, &info.ValidTo},
	}
	for _, f := range fields {
		v, err := sess.CertificateProperty(cert, f.prop)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate property: %w", err)
		}
		*f.dst = v
	}
	return info, nil
}

func subjectOf(id *provider.Identity) string {
	if id == nil || id.Certificate == nil {
		return ""
	}
	return id.Certificate.Subject.String()
}
