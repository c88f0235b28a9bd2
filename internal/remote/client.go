// Package remote is a client for the REST signature verification service
// used as an alternative verification and extraction backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public verification service.
const DefaultBaseURL = "https://ezsigner.kz/"

const (
	endpointVerify  = "checkSign"
	endpointExtract = "extractSrc"

	// formField is the multipart field carrying the signature file.
	formField       = "signData"
	defaultFileName = "signature.cms"

	// maxResponseSize is the default bound on response bodies.
	maxResponseSize = 100 << 20
)

// ErrBackend indicates the verification service could not be used.
var ErrBackend = errors.New("remote verification service error")

// Client talks to the verification service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxResponseSize bounds response bodies. Zero means 100 MiB.
	MaxResponseSize int64
}

func (c *Client) responseLimit() int64 {
	if c.MaxResponseSize > 0 {
		return c.MaxResponseSize
	}
	return maxResponseSize
}

// NewClient returns a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: timeout}}
}

// Code is a result code. The service sends it as a string or a number.
type Code string

// UnmarshalJSON accepts both JSON strings and numbers.
func (c *Code) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// VerificationResult is the service's verification report.
type VerificationResult struct {
	Code           Code               `json:"code"`
	Message        string             `json:"message"`
	ResponseObject *SignatureDocument `json:"responseObject"`
}

// SignatureDocument describes a verified CMS.
type SignatureDocument struct {
	Type        string       `json:"type"`
	Date        string       `json:"date"`
	SignerInfos []SignerInfo `json:"signerInfos"`
}

// SignerInfo describes one signer as reported by the service.
type SignerInfo struct {
	Number                        int           `json:"number"`
	IIN                           string        `json:"iin"`
	Name                          string        `json:"name"`
	BIN                           string        `json:"bin"`
	OrganizationName              string        `json:"organizationName"`
	SerialNumber                  string        `json:"serialNumber"`
	CertificateValidityPeriod     string        `json:"certificateValidityPeriod"`
	SignatureAlgorithm            string        `json:"signatureAlgorithm"`
	TspDate                       string        `json:"tspDate"`
	CheckDate                     string        `json:"checkDate"`
	CertificateVerificationResult *ResultDetail `json:"certificateVerificationResult"`
	TspVerificationResult         *ResultDetail `json:"tspVerificationResult"`
	SignatureVerificationResult   *ResultDetail `json:"signatureVerificationResult"`
	CertTemplateName              string        `json:"certTemplateName"`
	ValidTimestamp                bool          `json:"validTimestamp"`
	PersonCertificate             bool          `json:"personCertificate"`
	ValidSignature                bool          `json:"validSignature"`
}

// ResultDetail is one check of a signer.
type ResultDetail struct {
	Message string `json:"message"`
	Valid   bool   `json:"valid"`
}

// VerifySignature sends a CMS to the service. fileName names the signed
// document; the upload is called "<fileName>.cms". Transport and service
// failures are reported in the result, never as an error.
func (c *Client) VerifySignature(ctx context.Context, signature []byte, fileName string) *VerificationResult {
	resp, err := c.post(ctx, endpointVerify, signature, fileName)
	if err != nil {
		if ctx.Err() != nil {
			return &VerificationResult{Code: "500", Message: fmt.Sprintf("Verification error: %v", ctx.Err())}
		}
		return &VerificationResult{Code: "500", Message: fmt.Sprintf("Network error: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &VerificationResult{
			Code:    Code(strconv.Itoa(resp.StatusCode)),
			Message: fmt.Sprintf("API error: %s", http.StatusText(resp.StatusCode)),
		}
	}

	var result VerificationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.responseLimit())).Decode(&result); err != nil {
		return &VerificationResult{Code: "500", Message: "Failed to parse API response"}
	}
	return &result
}

// ExtractDocument returns the content encapsulated in signature.
func (c *Client) ExtractDocument(ctx context.Context, signature []byte) ([]byte, error) {
	resp, err := c.post(ctx, endpointExtract, signature, "")
	if err != nil {
		return nil, fmt.Errorf("failed to extract document from CMS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: extraction failed with status %d", ErrBackend, resp.StatusCode)
	}

	limit := c.responseLimit()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted document: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: extracted document exceeds %d bytes", ErrBackend, limit)
	}
	return data, nil
}

// ExtractContent implements cosign.ContentExtractor.
func (c *Client) ExtractContent(ctx context.Context, cmsDER []byte) ([]byte, error) {
	return c.ExtractDocument(ctx, cmsDER)
}

// post uploads signature as a multipart file to endpoint.
func (c *Client) post(ctx context.Context, endpoint string, signature []byte, fileName string) (*http.Response, error) {
	name := defaultFileName
	if strings.TrimSpace(fileName) != "" {
		name = fileName + ".cms"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(formField, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(signature); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return resp, nil
}
