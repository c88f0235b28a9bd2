package service

import (
	"context"
	"fmt"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/cosign"
	"github.com/remiblancher/qsign/internal/payload"
)

// CoSignRequest adds a signature to an existing CMS.
type CoSignRequest struct {
	ExistingCmsBase64 string

	// OriginalDocumentBase64 is the signed content. When empty it is
	// recovered from the existing CMS.
	OriginalDocumentBase64 string

	KeyStoreBase64 string
	Password       string
	StorageType    string
	Encoding       payload.Encoding

	// NoTimestamp skips the signature timestamp added by default.
	NoTimestamp bool
}

// CoSignResponse is the outcome of CoSign.
type CoSignResponse struct {
	SignatureBase64 string           `json:"signatureBase64"`
	SignersBefore   int              `json:"signersBefore"`
	SignersAfter    int              `json:"signersAfter"`
	Warnings        []string         `json:"warnings,omitempty"`
	CertificateInfo *CertificateInfo `json:"certificateInfo,omitempty"`
}

// CoSign adds a signature by the keystore's identity to an existing CMS.
func (s *Service) CoSign(ctx context.Context, req *CoSignRequest) (*CoSignResponse, error) {
	var original []byte
	if req.OriginalDocumentBase64 != "" {
		var err error
		if original, err = payload.DecodeString(req.OriginalDocumentBase64); err != nil {
			return nil, fmt.Errorf("invalid original document encoding: %w", err)
		}
	}

	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	id, err := s.loadIdentity(ctx, sess, req.KeyStoreBase64, req.Password, req.StorageType)
	if err != nil {
		return nil, &KeystoreError{Message: FriendlyKeystoreError(err), Err: err}
	}

	co := &cosign.CoSigner{
		Signer:    sess,
		Extractor: s.extractor(sess),
		Logger:    s.logger,
	}
	comp, err := co.AddCoSignature(ctx, &cosign.Request{
		ExistingCMS: req.ExistingCmsBase64,
		Original:    original,
		NoTimestamp: req.NoTimestamp,
	})
	signers := 0
	if comp != nil {
		signers = comp.SignersAfter
	}
	if aerr := audit.LogCoSign(subjectOf(id), signers, err); aerr != nil && err == nil {
		return nil, aerr
	}
	if err != nil {
		return nil, err
	}

	info, err := certificateInfo(sess, id.Certificate)
	if err != nil {
		return nil, err
	}
	return &CoSignResponse{
		SignatureBase64: payload.Encode(comp.Encoded, req.Encoding),
		SignersBefore:   comp.SignersBefore,
		SignersAfter:    comp.SignersAfter,
		Warnings:        comp.Warnings,
		CertificateInfo: info,
	}, nil
}
