package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/remiblancher/qsign/internal/cms"
)

const (
	contentTypeQuery = "application/timestamp-query"
	contentTypeReply = "application/timestamp-reply"

	// maxResponseSize bounds the body read from a TSA.
	maxResponseSize = 1 << 20
)

// Client requests RFC 3161 timestamps over HTTP.
type Client struct {
	// URLs are tried in order until one grants the request.
	URLs       []string
	Hash       crypto.Hash
	HTTPClient *http.Client
	// Roots, when set, is used to verify the TSA signer chain.
	Roots *x509.CertPool
}

// NewClient returns a client for the given TSA endpoints.
func NewClient(timeout time.Duration, urls ...string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URLs:       urls,
		Hash:       crypto.SHA256,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Timestamp obtains a verified token over data.
func (c *Client) Timestamp(ctx context.Context, data []byte) (*Token, error) {
	if len(c.URLs) == 0 {
		return nil, NewTSAError("request", fmt.Errorf("%w: no TSA URL configured", ErrInvalidRequest))
	}

	hashAlg := c.Hash
	if hashAlg == 0 {
		hashAlg = crypto.SHA256
	}

	req, err := CreateRequest(data, hashAlg, true, true)
	if err != nil {
		return nil, err
	}
	body, err := req.Marshal()
	if err != nil {
		return nil, NewTSAError("request", fmt.Errorf("failed to marshal request: %w", err))
	}

	var lastErr error
	for i, url := range c.URLs {
		if i > 0 {
			log.Printf("tsa: %s failed: %v, trying %s", c.URLs[i-1], lastErr, url)
		}
		token, err := c.do(ctx, url, body, req)
		if err == nil {
			if _, err = token.Verify(ctx, &VerifyConfig{Roots: c.Roots, Data: data}); err == nil {
				return token, nil
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string, body []byte, req *TimeStampReq) (*Token, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewTSAError("request", fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)
	httpReq.Header.Set("Accept", contentTypeReply)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewTSAError("request", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTSAError("response", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewTSAError("response", fmt.Errorf("%w: HTTP status %d", ErrInvalidResponse, resp.StatusCode))
	}

	parsed, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if !parsed.IsGranted() {
		return nil, NewTSAError("response", fmt.Errorf("%w: %s: %s", ErrRejected, parsed.StatusString(), parsed.FailureString()))
	}
	if parsed.Token == nil {
		return nil, NewTSAError("response", fmt.Errorf("%w: granted without token", ErrInvalidResponse))
	}

	if req.Nonce != nil && (parsed.Token.Info.Nonce == nil || parsed.Token.Info.Nonce.Cmp(req.Nonce) != 0) {
		return nil, NewTSAError("response", ErrNonceMismatch)
	}

	return parsed.Token, nil
}

// StampSigner timestamps the signature value of rec and attaches the token
// as an id-aa-signatureTimeStampToken unsigned attribute.
func (c *Client) StampSigner(ctx context.Context, rec *cms.SignerRecord) (*Token, error) {
	token, err := c.Timestamp(ctx, rec.Signature)
	if err != nil {
		return nil, err
	}
	if err := rec.AddUnsignedAttribute(cms.NewTimeStampTokenAttr(token.SignedData)); err != nil {
		return nil, NewTSAError("request", fmt.Errorf("failed to attach token: %w", err))
	}
	return token, nil
}
