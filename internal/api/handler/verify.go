package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/remiblancher/qsign/internal/api/dto"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/remote"
	"github.com/remiblancher/qsign/internal/service"
)

// Remote endpoint messages.
const (
	MsgInvalidBase64          = "Invalid Base64 encoding in DocumentBase64 or SignatureBase64"
	MsgInvalidSignatureBase64 = "Invalid Base64 encoding in SignatureBase64"
)

// VerifyHandler handles the remote backend endpoints under /api/verify.
type VerifyHandler struct {
	svc *service.Service
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(svc *service.Service) *VerifyHandler {
	return &VerifyHandler{svc: svc}
}

// Verify handles POST /api/verify.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.SignatureBase64) {
		respondJSON(w, http.StatusBadRequest, remote.VerificationResult{Code: "400", Message: MsgSignatureRequired})
		return
	}

	res, err := h.svc.VerifyRemote(r.Context(), req.SignatureBase64, req.FileName)
	switch {
	case errors.Is(err, payload.ErrDecode):
		respondJSON(w, http.StatusBadRequest, remote.VerificationResult{Code: "400", Message: MsgInvalidBase64})
	case err != nil:
		handleServiceError(w, err)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

// Extract handles POST /api/verify/extract.
func (h *VerifyHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req dto.ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if blank(req.SignatureBase64) {
		respondError(w, http.StatusBadRequest, &dto.APIError{Code: "400", Message: MsgSignatureRequired})
		return
	}

	data, err := h.svc.ExtractRemote(r.Context(), req.SignatureBase64)
	switch {
	case errors.Is(err, payload.ErrDecode):
		respondError(w, http.StatusBadRequest, &dto.APIError{Code: "400", Message: MsgInvalidSignatureBase64})
	case err != nil:
		handleServiceError(w, err)
	default:
		respondJSON(w, http.StatusOK, dto.ExtractResponse{DocumentBase64: base64.StdEncoding.EncodeToString(data)})
	}
}
