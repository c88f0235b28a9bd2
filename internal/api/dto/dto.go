// Package dto provides Data Transfer Objects for the REST API.
//
// Field names follow the camelCase JSON used by existing clients; decoding
// is case-insensitive.
package dto

// SignRequest is the body of POST /api/sign and /api/sign/certificate/info.
type SignRequest struct {
	FileName       string `json:"fileName,omitempty"`
	DocumentBase64 string `json:"documentBase64"`
	KeyStoreBase64 string `json:"keyStoreBase64"`
	Password       string `json:"password"`

	// StorageType is PKCS12 (default), PEM or KAZTOKEN.
	StorageType string `json:"storageType,omitempty"`

	// Encoding of the returned signature: "base64" (default) or "pem".
	Encoding  string `json:"encoding,omitempty"`
	Detached  bool   `json:"detached,omitempty"`
	Timestamp bool   `json:"timestamp,omitempty"`
}

// DocumentToSign is one entry of a batch.
type DocumentToSign struct {
	FileName       string `json:"fileName"`
	DocumentBase64 string `json:"documentBase64"`
}

// BatchSignRequest is the body of POST /api/sign/batch.
type BatchSignRequest struct {
	Documents      []DocumentToSign `json:"documents"`
	KeyStoreBase64 string           `json:"keyStoreBase64"`
	Password       string           `json:"password"`
	StorageType    string           `json:"storageType,omitempty"`
	Encoding       string           `json:"encoding,omitempty"`
	Timestamp      bool             `json:"timestamp,omitempty"`
}

// CoSignRequest is the body of POST /api/sign/cosign.
type CoSignRequest struct {
	ExistingCmsBase64      string `json:"existingCmsBase64"`
	OriginalDocumentBase64 string `json:"originalDocumentBase64,omitempty"`
	KeyStoreBase64         string `json:"keyStoreBase64"`
	Password               string `json:"password"`
	StorageType            string `json:"storageType,omitempty"`
	Encoding               string `json:"encoding,omitempty"`

	// NoTimestamp disables the signature timestamp co-signatures carry by
	// default.
	NoTimestamp bool `json:"noTimestamp,omitempty"`
}

// VerifyCmsRequest is the body of POST /api/sign/verify.
type VerifyCmsRequest struct {
	CmsSignatureBase64     string `json:"cmsSignatureBase64"`
	OriginalDocumentBase64 string `json:"originalDocumentBase64,omitempty"`

	// Optional keystore loaded before verifying.
	KeyStoreBase64 string `json:"keyStoreBase64,omitempty"`
	Password       string `json:"password,omitempty"`
	StorageType    string `json:"storageType,omitempty"`
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	SignatureBase64 string `json:"signatureBase64"`
	FileName        string `json:"fileName,omitempty"`
}

// ExtractRequest is the body of the extract endpoints.
type ExtractRequest struct {
	SignatureBase64 string `json:"signatureBase64"`
}

// ExtractResponse carries extracted content.
type ExtractResponse struct {
	DocumentBase64 string `json:"documentBase64"`
}

// MessageResponse is a bare message.
type MessageResponse struct {
	Message string `json:"message"`
}

// APIError represents a standardized error response.
type APIError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status  string `json:"status"`
	Version string `json:"version"`

	// Services lists components and their status.
	Services map[string]string `json:"services,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks,omitempty"`
}
