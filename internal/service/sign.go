package service

import (
	"context"
	"fmt"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
)

// MsgSigned is the message of a successful SignDocument.
const MsgSigned = "Document signed successfully"

// SignRequest signs one document.
type SignRequest struct {
	FileName       string
	DocumentBase64 string
	KeyStoreBase64 string
	Password       string
	StorageType    string

	// Encoding of the signature; empty means base64.
	Encoding  payload.Encoding
	Detached  bool
	Timestamp bool
}

// SignResponse is the outcome of SignDocument.
type SignResponse struct {
	SignatureBase64 string           `json:"signatureBase64,omitempty"`
	Message         string           `json:"message,omitempty"`
	Success         bool             `json:"success"`
	CertificateInfo *CertificateInfo `json:"certificateInfo,omitempty"`
}

// Document is one batch entry.
type Document struct {
	FileName       string `json:"fileName"`
	DocumentBase64 string `json:"documentBase64"`
}

// BatchRequest signs several documents with one keystore.
type BatchRequest struct {
	Documents      []Document
	KeyStoreBase64 string
	Password       string
	StorageType    string
	Encoding       payload.Encoding
	Timestamp      bool
}

// DocumentResult is the outcome for one batch document.
type DocumentResult struct {
	FileName        string  `json:"fileName"`
	SignatureBase64 *string `json:"signatureBase64"`
	Success         bool    `json:"success"`
	ErrorMessage    *string `json:"errorMessage"`
}

// BatchResponse summarizes a batch.
type BatchResponse struct {
	Results        []DocumentResult `json:"results"`
	TotalDocuments int              `json:"totalDocuments"`
	SuccessCount   int              `json:"successCount"`
	FailedCount    int              `json:"failedCount"`
	Message        string           `json:"message,omitempty"`
}

func signFlags(enc payload.Encoding, detached, timestamp bool) provider.Flags {
	flags := provider.SignCMS | provider.OutputBase64
	if enc == payload.EncodingPEM {
		flags = provider.SignCMS | provider.OutputPEM
	}
	if detached {
		flags |= provider.DetachedData
	}
	if timestamp {
		flags |= provider.WithTimestamp
	}
	return flags
}

// SignDocument signs one document and returns the signature with the
// signer's certificate details.
func (s *Service) SignDocument(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	id, err := s.loadIdentity(ctx, sess, req.KeyStoreBase64, req.Password, req.StorageType)
	if err != nil {
		return nil, &KeystoreError{Message: FriendlyKeystoreError(err), Err: err}
	}

	doc, err := payload.DecodeString(req.DocumentBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid document encoding: %w", err)
	}

	flags := signFlags(req.Encoding, req.Detached, req.Timestamp)
	sig, err := sess.Sign(ctx, doc, flags)
	if aerr := audit.LogSign(req.FileName, subjectOf(id), req.Detached, req.Timestamp, err); aerr != nil && err == nil {
		return nil, aerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign document: %w", err)
	}

	info, err := certificateInfo(sess, id.Certificate)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("sign: %d bytes signed (%s)", len(doc), flags)
	return &SignResponse{
		SignatureBase64: string(sig),
		Message:         MsgSigned,
		Success:         true,
		CertificateInfo: info,
	}, nil
}

// SignBatch loads the keystore once and signs every document in order. A
// failing document does not stop the batch. When the keystore cannot be
// loaded every document fails with the same error.
func (s *Service) SignBatch(ctx context.Context, req *BatchRequest) *BatchResponse {
	resp := &BatchResponse{
		TotalDocuments: len(req.Documents),
		Results:        make([]DocumentResult, 0, len(req.Documents)),
	}

	id, sess, err := s.batchSession(ctx, req)
	if err != nil {
		s.logger.Printf("batch: %v", err)
		resp.Message = fmt.Sprintf("Batch signing error: %v", err)
		for _, doc := range req.Documents {
			resp.Results = append(resp.Results, failed(doc.FileName, err))
			resp.FailedCount++
		}
		_ = audit.LogBatchSign("", resp.TotalDocuments, resp.FailedCount, err)
		return resp
	}
	defer sess.Release()

	flags := signFlags(req.Encoding, false, req.Timestamp)
	for _, doc := range req.Documents {
		result := s.signOne(ctx, sess, doc, flags)
		if result.Success {
			resp.SuccessCount++
		} else {
			resp.FailedCount++
		}
		resp.Results = append(resp.Results, result)
	}

	resp.Message = fmt.Sprintf("Batch signing completed. Success: %d, Failed: %d", resp.SuccessCount, resp.FailedCount)
	if err := audit.LogBatchSign(subjectOf(id), resp.TotalDocuments, resp.FailedCount, nil); err != nil {
		s.logger.Printf("batch: %v", err)
	}
	return resp
}

func (s *Service) batchSession(ctx context.Context, req *BatchRequest) (*provider.Identity, *provider.Session, error) {
	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	id, err := s.loadIdentity(ctx, sess, req.KeyStoreBase64, req.Password, req.StorageType)
	if err != nil {
		sess.Release()
		return nil, nil, err
	}
	return id, sess, nil
}

func (s *Service) signOne(ctx context.Context, sess *provider.Session, doc Document, flags provider.Flags) DocumentResult {
	if err := ctx.Err(); err != nil {
		return failed(doc.FileName, err)
	}
	data, err := payload.DecodeString(doc.DocumentBase64)
	if err != nil {
		s.logger.Printf("batch: error signing document %s: %v", doc.FileName, err)
		return failed(doc.FileName, err)
	}
	sig, err := sess.Sign(ctx, data, flags)
	if err != nil {
		s.logger.Printf("batch: error signing document %s: %v", doc.FileName, err)
		return failed(doc.FileName, err)
	}
	out := string(sig)
	return DocumentResult{FileName: doc.FileName, SignatureBase64: &out, Success: true}
}

func failed(fileName string, err error) DocumentResult {
	msg := err.Error()
	return DocumentResult{FileName: fileName, ErrorMessage: &msg}
}

// CertificateInfo loads a keystore and describes its signing certificate.
// Errors are *KeystoreError values with a user facing message.
func (s *Service) CertificateInfo(ctx context.Context, keystoreB64, password, storage string) (*CertificateInfo, error) {
	sess, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	id, err := s.loadIdentity(ctx, sess, keystoreB64, password, storage)
	if err != nil {
		s.logger.Printf("certificate info: %v", err)
		return nil, &KeystoreError{Message: FriendlyKeystoreError(err), Err: err}
	}
	info, err := certificateInfo(sess, id.Certificate)
	if err != nil {
		return nil, &KeystoreError{Message: FriendlyKeystoreError(err), Err: err}
	}
	return info, nil
}
