package tsa

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remiblancher/qsign/internal/cms"
)

var testPolicy = asn1.ObjectIdentifier{1, 2, 3, 4, 1}

// =============================================================================
// Test TSA
// =============================================================================

type testTSA struct {
	cert   *x509.Certificate
	key    crypto.Signer
	status int
	// badNonce makes the TSA answer with a different nonce.
	badNonce bool
	calls    atomic.Int32
}

func newTestTSA(t *testing.T) *testTSA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "Test TSA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &testTSA{cert: cert, key: key}
}

func (s *testTSA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if r.Header.Get("Content-Type") != contentTypeQuery {
		http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
		return
	}
	body, _ := io.ReadAll(r.Body)
	req, err := ParseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := TimeStampResp{Status: PKIStatusInfo{Status: s.status}}
	if s.status == StatusGranted {
		token, err := s.token(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.TimeStampToken = asn1.RawValue{FullBytes: token}
	} else {
		resp.Status.StatusString = []string{"policy not accepted"}
	}

	out, err := asn1.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeReply)
	_, _ = w.Write(out)
}

func (s *testTSA) token(req *TimeStampReq) ([]byte, error) {
	info := TSTInfo{
		Version:        1,
		Policy:         testPolicy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   big.NewInt(int64(s.calls.Load())),
		GenTime:        time.Now().UTC().Truncate(time.Second),
		Nonce:          req.Nonce,
	}
	if s.badNonce {
		info.Nonce = big.NewInt(1)
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, err
	}
	return cms.Sign(context.Background(), infoDER, &cms.SignerConfig{
		Certificate:  s.cert,
		Signer:       s.key,
		DigestAlg:    crypto.SHA256,
		IncludeCerts: req.CertReq,
		ContentType:  cms.OIDTSTInfo,
	})
}

// =============================================================================
// Request Tests
// =============================================================================

func TestU_Request_CreateAndParse(t *testing.T) {
	req, err := CreateRequest([]byte("test data"), crypto.SHA256, true, true)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if req.Nonce == nil {
		t.Error("expected nonce")
	}

	der, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := ParseRequest(der)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}

	want := sha256.Sum256([]byte("test data"))
	if string(parsed.MessageImprint.HashedMessage) != string(want[:]) {
		t.Error("message imprint mismatch")
	}
	if !parsed.CertReq {
		t.Error("CertReq lost")
	}
}

func TestU_Request_Parse_InvalidVersion(t *testing.T) {
	req, _ := CreateRequest([]byte("x"), crypto.SHA256, false, false)
	req.Version = 2
	der, _ := req.Marshal()

	if _, err := ParseRequest(der); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestU_Request_HashLengthMismatch(t *testing.T) {
	req, _ := CreateRequest([]byte("x"), crypto.SHA256, false, false)
	req.MessageImprint.HashedMessage = req.MessageImprint.HashedMessage[:10]
	der, _ := req.Marshal()

	if _, err := ParseRequest(der); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestU_Request_UnsupportedHash(t *testing.T) {
	if _, err := CreateRequest([]byte("x"), crypto.MD5, false, false); !errors.Is(err, ErrUnsupportedHashAlgorithm) {
		t.Errorf("expected ErrUnsupportedHashAlgorithm, got %v", err)
	}
}

// =============================================================================
// Response Tests
// =============================================================================

func TestU_Response_StatusString(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"[Unit] Status: granted", StatusGranted, "granted"},
		{"[Unit] Status: granted with mods", StatusGrantedWithMods, "granted with modifications"},
		{"[Unit] Status: rejection", StatusRejection, "rejection"},
		{"[Unit] Status: unknown", 42, "unknown status 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Response{Status: PKIStatusInfo{Status: tt.status}}
			if got := r.StatusString(); got != tt.want {
				t.Errorf("StatusString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestU_Response_FailureString(t *testing.T) {
	r := &Response{Status: PKIStatusInfo{
		Status:   StatusRejection,
		FailInfo: asn1.BitString{Bytes: []byte{0x20}, BitLength: 3},
	}}
	if got := r.FailureString(); got != "transaction not permitted or supported" {
		t.Errorf("FailureString() = %q", got)
	}

	r = &Response{Status: PKIStatusInfo{StatusString: []string{"busy"}}}
	if got := r.FailureString(); got != "busy" {
		t.Errorf("FailureString() = %q", got)
	}
}

func TestU_ParseResponse_Invalid(t *testing.T) {
	if _, err := ParseResponse([]byte{0x01, 0x02}); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

// =============================================================================
// Client Tests
// =============================================================================

func TestF_Client_Timestamp(t *testing.T) {
	tsa := newTestTSA(t)
	srv := httptest.NewServer(tsa)
	defer srv.Close()

	c := NewClient(5*time.Second, srv.URL)
	data := []byte("signature bytes")

	token, err := c.Timestamp(context.Background(), data)
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if token.GenTime().IsZero() {
		t.Error("GenTime is zero")
	}
	if h, _ := token.HashAlgorithm(); h != crypto.SHA256 {
		t.Errorf("HashAlgorithm() = %v", h)
	}

	if _, err := token.Verify(context.Background(), &VerifyConfig{Data: []byte("other")}); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestF_Client_FallsBackToNextURL(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tsa := newTestTSA(t)
	up := httptest.NewServer(tsa)
	defer up.Close()

	c := NewClient(5*time.Second, down.URL, up.URL)
	if _, err := c.Timestamp(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if tsa.calls.Load() != 1 {
		t.Errorf("expected 1 call to the working TSA, got %d", tsa.calls.Load())
	}
}

func TestU_Client_Rejected(t *testing.T) {
	tsa := newTestTSA(t)
	tsa.status = StatusRejection
	srv := httptest.NewServer(tsa)
	defer srv.Close()

	_, err := NewClient(5*time.Second, srv.URL).Timestamp(context.Background(), []byte("x"))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestU_Client_NonceMismatch(t *testing.T) {
	tsa := newTestTSA(t)
	tsa.badNonce = true
	srv := httptest.NewServer(tsa)
	defer srv.Close()

	_, err := NewClient(5*time.Second, srv.URL).Timestamp(context.Background(), []byte("x"))
	if !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("expected ErrNonceMismatch, got %v", err)
	}
}

func TestU_Client_NoURL(t *testing.T) {
	_, err := NewClient(0).Timestamp(context.Background(), []byte("x"))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestF_Client_StampSigner(t *testing.T) {
	tsa := newTestTSA(t)
	srv := httptest.NewServer(tsa)
	defer srv.Close()

	// Sign something with the TSA key itself; any signer works here.
	der, err := cms.Sign(context.Background(), []byte("doc"), &cms.SignerConfig{
		Certificate:  tsa.cert,
		Signer:       tsa.key,
		IncludeCerts: true,
	})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	msg, err := cms.Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	c := NewClient(5*time.Second, srv.URL)
	if _, err := c.StampSigner(context.Background(), msg.Signers[0]); err != nil {
		t.Fatalf("StampSigner failed: %v", err)
	}

	stamped, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	res, err := cms.Verify(context.Background(), stamped, &cms.VerifyConfig{SkipCertVerify: true})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Signers[0].Timestamped {
		t.Error("expected signer to be timestamped")
	}
}

func TestU_TSAError(t *testing.T) {
	err := NewTSAError("verify", ErrHashMismatch)
	if err.Error() != "tsa verify: message imprint mismatch" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrHashMismatch) {
		t.Error("errors.Is() = false")
	}
}

// FuzzParseResponse tests that parsing arbitrary data doesn't panic.
func FuzzParseResponse(f *testing.F) {
	f.Add([]byte{0x30, 0x00})
	f.Add([]byte{0x30, 0x03, 0x02, 0x01, 0x00})
	f.Add([]byte{0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ParseResponse(data)
	})
}
