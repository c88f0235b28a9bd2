// Package errors maps service errors to HTTP status codes and API errors.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/remiblancher/qsign/internal/api/dto"
	"github.com/remiblancher/qsign/internal/cms"
	"github.com/remiblancher/qsign/internal/cosign"
	"github.com/remiblancher/qsign/internal/keystore"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/remote"
	"github.com/remiblancher/qsign/internal/service"
)

// Error codes for API responses.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRequestTooLarge  = "REQUEST_TOO_LARGE"
	CodeDecodeError      = "DECODE_ERROR"
	CodeInvalidCMS       = "INVALID_CMS"
	CodeEmptyContent     = "EMPTY_CONTENT"
	CodeContentRecovery  = "CONTENT_RECOVERY_FAILED"
	CodeContentMismatch  = "CONTENT_MISMATCH"
	CodeKeystoreError    = "KEYSTORE_ERROR"
	CodeVerification     = "VERIFICATION_FAILED"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeRemoteDisabled   = "REMOTE_DISABLED"
	CodeRemoteError      = "REMOTE_ERROR"
	CodeRequestCancelled = "REQUEST_CANCELLED"
	CodeInternal         = "INTERNAL_ERROR"
)

// MapError maps an error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var ksErr *service.KeystoreError
	switch {
	case errors.As(err, &ksErr):
		return http.StatusBadRequest, &dto.APIError{Code: CodeKeystoreError, Message: ksErr.Message}
	case errors.Is(err, keystore.ErrBadPassword), errors.Is(err, keystore.ErrNoPrivateKey),
		errors.Is(err, keystore.ErrNoCertificate), errors.Is(err, keystore.ErrEmptyKeystore),
		errors.Is(err, keystore.ErrNoTokenConfig):
		return http.StatusBadRequest, &dto.APIError{Code: CodeKeystoreError, Message: service.FriendlyKeystoreError(err)}
	case errors.Is(err, payload.ErrDecode):
		return http.StatusBadRequest, &dto.APIError{Code: CodeDecodeError, Message: err.Error()}
	case errors.Is(err, cosign.ErrNotCMS), errors.Is(err, cms.ErrInvalidStructure), errors.Is(err, provider.ErrUnknownFormat):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeInvalidCMS, Message: err.Error()}
	case errors.Is(err, cosign.ErrEmptyContent):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeEmptyContent, Message: err.Error()}
	case errors.Is(err, cosign.ErrContentRecovery):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeContentRecovery, Message: err.Error()}
	case errors.Is(err, cosign.ErrContentMismatch):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeContentMismatch, Message: err.Error()}
	case errors.Is(err, provider.ErrVerificationFailed):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeVerification, Message: err.Error()}
	case errors.Is(err, provider.ErrChainNotFound), errors.Is(err, provider.ErrProviderFailure),
		errors.Is(err, provider.ErrNoIdentity), errors.Is(err, provider.ErrUnsupportedFlags):
		return http.StatusUnprocessableEntity, &dto.APIError{Code: CodeProviderError, Message: err.Error()}
	case errors.Is(err, service.ErrRemoteDisabled):
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodeRemoteDisabled, Message: err.Error()}
	case errors.Is(err, remote.ErrBackend):
		return http.StatusBadGateway, &dto.APIError{Code: CodeRemoteError, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodeRequestCancelled, Message: err.Error()}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, &dto.APIError{Code: CodeRequestTooLarge, Message: err.Error()}
	}

	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "Internal error: " + err.Error(),
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{Code: CodeInvalidRequest, Message: message}
}
