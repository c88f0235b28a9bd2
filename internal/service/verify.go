package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/cosign"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/remote"
	"github.com/remiblancher/qsign/internal/verify"
)

// VerifyRequest verifies a CMS, optionally against a detached document.
type VerifyRequest struct {
	CmsSignatureBase64     string
	OriginalDocumentBase64 string
	KeyStoreBase64         string
	Password               string
	StorageType            string
}

// VerifyResponse is the outcome of VerifyCMS.
type VerifyResponse struct {
	Success           bool             `json:"success"`
	Message           string           `json:"message,omitempty"`
	VerificationInfo  string           `json:"verificationInfo,omitempty"`
	SignerCertificate *CertificateInfo `json:"signerCertificate,omitempty"`
	// ResultData is the verified content, base64 encoded.
	ResultData  string `json:"resultData,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Alternative bool   `json:"alternative,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// VerifyCMS verifies a signature with the fallback engine. Failures of any
// kind are reported in the response.
func (s *Service) VerifyCMS(ctx context.Context, req *VerifyRequest) *VerifyResponse {
	var original []byte
	if req.OriginalDocumentBase64 != "" {
		var err error
		if original, err = payload.DecodeString(req.OriginalDocumentBase64); err != nil {
			return s.verifyFailed(false, "", fmt.Errorf("invalid original document encoding: %w", err))
		}
	}

	var keystore []byte
	if req.KeyStoreBase64 != "" && req.Password != "" {
		var err error
		if keystore, err = payload.DecodeString(req.KeyStoreBase64); err != nil {
			return s.verifyFailed(len(original) > 0, "", fmt.Errorf("invalid keystore encoding: %w", err))
		}
	}

	res, err := s.engine.Verify(ctx, &verify.Request{
		Signature: req.CmsSignatureBase64,
		Original:  original,
		Keystore:  keystore,
		Password:  req.Password,
		Storage:   provider.ParseStorageKind(req.StorageType),
	})
	if err != nil {
		return s.verifyFailed(len(original) > 0, "", err)
	}

	if !res.Success {
		s.logger.Printf("verify: %s: %v", res.Class, res.Err)
		_ = audit.LogVerify(res.Mode == verify.Detached, 0, "", false, string(res.Class))
		return &VerifyResponse{Message: res.Message, Reason: string(res.Class)}
	}

	resp := &VerifyResponse{
		Success:     true,
		Message:     res.Message,
		Strategy:    res.Strategy.String(),
		Alternative: res.Alternative,
	}
	signers := 0
	if res.Info != nil {
		resp.VerificationInfo = res.Info.String()
		signers = len(res.Info.Signers)
		if signers > 0 && res.Info.Signers[0].Certificate != nil {
			resp.SignerCertificate = s.describe(ctx, res.Info.Signers[0])
		}
	}
	if len(res.Content) > 0 {
		resp.ResultData = base64.StdEncoding.EncodeToString(res.Content)
	}
	if err := audit.LogVerify(res.Mode == verify.Detached, signers, res.Strategy.String(), true, ""); err != nil {
		return s.verifyFailed(res.Mode == verify.Detached, "", err)
	}
	return resp
}

func (s *Service) verifyFailed(detached bool, reason string, err error) *VerifyResponse {
	s.logger.Printf("verify: %v", err)
	_ = audit.LogVerify(detached, 0, "", false, err.Error())
	return &VerifyResponse{Message: err.Error(), Reason: reason}
}

// describe reads the certificate details of a verified signer. Errors leave
// the fields empty.
func (s *Service) describe(ctx context.Context, signer provider.SignerSummary) *CertificateInfo {
	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil
	}
	defer sess.Release()
	info, err := certificateInfo(sess, signer.Certificate)
	if err != nil {
		return nil
	}
	return info
}

// extractor returns the content extractors for sess: the provider first,
// then the remote backend when enabled.
func (s *Service) extractor(sess *provider.Session) cosign.ContentExtractor {
	if s.remote != nil && s.remoteExtraction {
		return extractorChain{sess, s.remote}
	}
	return sess
}

// extractorChain tries extractors in order and returns the first content.
type extractorChain []cosign.ContentExtractor

func (c extractorChain) ExtractContent(ctx context.Context, cmsDER []byte) ([]byte, error) {
	var errs []error
	for _, ex := range c {
		data, err := ex.ExtractContent(ctx, cmsDER)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// Extract returns the content encapsulated in a base64 or PEM encoded CMS.
func (s *Service) Extract(ctx context.Context, cmsB64 string) ([]byte, error) {
	n, err := payload.Normalize(cmsB64)
	if err != nil {
		return nil, err
	}

	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	data, err := cosign.RecoverOriginalContent(ctx, s.extractor(sess), n.Bytes)
	if aerr := audit.LogExtract(err); aerr != nil && err == nil {
		return nil, aerr
	}
	return data, err
}

// VerifyRemote sends a base64 encoded CMS to the remote backend.
func (s *Service) VerifyRemote(ctx context.Context, signatureB64, fileName string) (*remote.VerificationResult, error) {
	if s.remote == nil {
		return nil, ErrRemoteDisabled
	}
	sig, err := payload.DecodeString(signatureB64)
	if err != nil {
		return nil, err
	}
	res := s.remote.VerifySignature(ctx, sig, fileName)
	_ = audit.LogVerify(false, 0, "remote", res.Code == "200", res.Message)
	return res, nil
}

// ExtractRemote extracts the document of a base64 encoded CMS through the
// remote backend.
func (s *Service) ExtractRemote(ctx context.Context, signatureB64 string) ([]byte, error) {
	if s.remote == nil {
		return nil, ErrRemoteDisabled
	}
	sig, err := payload.DecodeString(signatureB64)
	if err != nil {
		return nil, err
	}
	data, err := s.remote.ExtractDocument(ctx, sig)
	_ = audit.LogExtract(err)
	return data, err
}
