package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/keystore"
)

const testPassword = "Qwerty12"

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	_ = audit.Close()
	return buf.String(), err
}

// resetFlags restores every command flag to its default, since Cobra keeps
// values between executions.
func resetFlags() {
	configPath, auditLogPath, verbose = "", "", false
	cfg = nil

	signInput, signOutput, signFormat = "", "", "der"
	signDetached, signTimestamp = false, false
	signKeystore = keystoreFlags{storage: "PKCS12"}

	cosignOriginal, cosignOutput, cosignFormat = "", "", "der"
	cosignNoTimestamp = false
	cosignKeystore = keystoreFlags{storage: "PKCS12"}

	verifyData, verifyContentOut, verifyRemote = "", "", false

	batchOutDir, batchFormat, batchTimestamp = ".", "der", false
	batchKeystore = keystoreFlags{storage: "PKCS12"}

	certInfoKeystore = keystoreFlags{storage: "PKCS12"}

	extractOutput, extractRemote = "", false

	auditLogFile, auditTailNum, auditShowJSON = "", 10, false
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
	caCert  *x509.Certificate
	caKey   *ecdsa.PrivateKey
}

// newTestContext creates a test context with a temp directory and a test CA.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv("QSIGN_CONFIG", "")
	t.Setenv("QSIGN_AUDIT_LOG", "")
	t.Setenv(EnvPassword, "")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "NCA Test Root"},
		NotBefore:             time.Now().Add(-48 * time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create CA: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)

	return &testContext{t: t, tempDir: t.TempDir(), caCert: cert, caKey: key}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// readFile reads a file from the temp directory.
func (tc *testContext) readFile(path string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		tc.t.Fatalf("Failed to read %s: %v", path, err)
	}
	return data
}

// writeKeystore issues a certificate for cn and writes it as a PKCS#12 file.
func (tc *testContext) writeKeystore(name, cn string) string {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn, SerialNumber: "IIN" + cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, tc.caCert, &key.PublicKey, tc.caKey)
	if err != nil {
		tc.t.Fatalf("Failed to issue certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)
	blob, err := keystore.EncodePKCS12(key, cert, []*x509.Certificate{tc.caCert}, testPassword)
	if err != nil {
		tc.t.Fatalf("Failed to encode keystore: %v", err)
	}
	path := tc.path(name)
	if err := os.WriteFile(path, blob, 0600); err != nil {
		tc.t.Fatalf("Failed to write keystore: %v", err)
	}
	return path
}
