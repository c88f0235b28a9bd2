package handler

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/remiblancher/qsign/internal/api/dto"
	apierrors "github.com/remiblancher/qsign/internal/api/errors"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/service"
)

// Validation messages.
const (
	MsgDocumentsRequired    = "At least one document is required"
	MsgKeyStoreRequired     = "KeyStoreBase64 is required"
	MsgPasswordRequired     = "Password is required"
	MsgDocumentRequired     = "DocumentBase64 is required"
	MsgExistingCMSRequired  = "ExistingCmsBase64 is required"
	MsgCMSSignatureRequired = "CmsSignatureBase64 is required"
	MsgSignatureRequired    = "SignatureBase64 is required"
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// SignHandler handles signing endpoints under /api/sign.
type SignHandler struct {
	svc *service.Service
}

// NewSignHandler creates a SignHandler.
func NewSignHandler(svc *service.Service) *SignHandler {
	return &SignHandler{svc: svc}
}

// Sign handles POST /api/sign.
func (h *SignHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req dto.SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := requireKeystore(req.KeyStoreBase64, req.Password); msg != "" {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(msg))
		return
	}
	if blank(req.DocumentBase64) {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(MsgDocumentRequired))
		return
	}
	enc, err := payload.ParseEncoding(req.Encoding)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}

	resp, err := h.svc.SignDocument(r.Context(), &service.SignRequest{
		FileName:       req.FileName,
		DocumentBase64: req.DocumentBase64,
		KeyStoreBase64: req.KeyStoreBase64,
		Password:       req.Password,
		StorageType:    req.StorageType,
		Encoding:       enc,
		Detached:       req.Detached,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Batch handles POST /api/sign/batch.
func (h *SignHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req dto.BatchSignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		respondJSON(w, http.StatusBadRequest, service.BatchResponse{Message: MsgDocumentsRequired})
		return
	}
	if msg := requireKeystore(req.KeyStoreBase64, req.Password); msg != "" {
		respondJSON(w, http.StatusBadRequest, service.BatchResponse{Message: msg})
		return
	}
	enc, err := payload.ParseEncoding(req.Encoding)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, service.BatchResponse{Message: err.Error()})
		return
	}

	docs := make([]service.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = service.Document{FileName: d.FileName, DocumentBase64: d.DocumentBase64}
	}
	resp := h.svc.SignBatch(r.Context(), &service.BatchRequest{
		Documents:      docs,
		KeyStoreBase64: req.KeyStoreBase64,
		Password:       req.Password,
		StorageType:    req.StorageType,
		Encoding:       enc,
		Timestamp:      req.Timestamp,
	})
	respondJSON(w, http.StatusOK, resp)
}

// CoSign handles POST /api/sign/cosign.
func (h *SignHandler) CoSign(w http.ResponseWriter, r *http.Request) {
	var req dto.CoSignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.ExistingCmsBase64) {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(MsgExistingCMSRequired))
		return
	}
	if msg := requireKeystore(req.KeyStoreBase64, req.Password); msg != "" {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(msg))
		return
	}
	enc, err := payload.ParseEncoding(req.Encoding)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}

	resp, err := h.svc.CoSign(r.Context(), &service.CoSignRequest{
		ExistingCmsBase64:      req.ExistingCmsBase64,
		OriginalDocumentBase64: req.OriginalDocumentBase64,
		KeyStoreBase64:         req.KeyStoreBase64,
		Password:               req.Password,
		StorageType:            req.StorageType,
		Encoding:               enc,
		NoTimestamp:            req.NoTimestamp,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// CertificateInfo handles POST /api/sign/certificate/info.
func (h *SignHandler) CertificateInfo(w http.ResponseWriter, r *http.Request) {
	var req dto.SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := requireKeystore(req.KeyStoreBase64, req.Password); msg != "" {
		respondJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: msg})
		return
	}

	info, err := h.svc.CertificateInfo(r.Context(), req.KeyStoreBase64, req.Password, req.StorageType)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// Verify handles POST /api/sign/verify.
func (h *SignHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyCmsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.CmsSignatureBase64) {
		respondJSON(w, http.StatusBadRequest, service.VerifyResponse{Message: MsgCMSSignatureRequired})
		return
	}

	resp := h.svc.VerifyCMS(r.Context(), &service.VerifyRequest{
		CmsSignatureBase64:     req.CmsSignatureBase64,
		OriginalDocumentBase64: req.OriginalDocumentBase64,
		KeyStoreBase64:         req.KeyStoreBase64,
		Password:               req.Password,
		StorageType:            req.StorageType,
	})
	respondJSON(w, http.StatusOK, resp)
}

// Extract handles POST /api/sign/extract.
func (h *SignHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req dto.ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.SignatureBase64) {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(MsgSignatureRequired))
		return
	}

	data, err := h.svc.Extract(r.Context(), req.SignatureBase64)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.ExtractResponse{DocumentBase64: base64.StdEncoding.EncodeToString(data)})
}

// requireKeystore returns the validation message for missing credentials.
func requireKeystore(keystore, password string) string {
	switch {
	case blank(keystore):
		return MsgKeyStoreRequired
	case blank(password):
		return MsgPasswordRequired
	default:
		return ""
	}
}
