package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// Note: t.Parallel() is not used because Cobra commands share global flag state.

// =============================================================================
// Sign Tests
// =============================================================================

func TestF_Sign(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		detached bool
		check    func(t *testing.T, out []byte)
	}{
		{
			name:   "[Functional] Sign: DER",
			format: "der",
			check: func(t *testing.T, out []byte) {
				if len(out) == 0 || out[0] != 0x30 {
					t.Errorf("output is not DER")
				}
			},
		},
		{
			name:   "[Functional] Sign: PEM",
			format: "pem",
			check: func(t *testing.T, out []byte) {
				if !bytes.HasPrefix(out, []byte("-----BEGIN CMS-----")) {
					t.Errorf("output is not PEM: %q", out[:min(len(out), 32)])
				}
			},
		},
		{
			name:   "[Functional] Sign: base64",
			format: "base64",
			check: func(t *testing.T, out []byte) {
				if bytes.ContainsAny(out, "-\n") {
					t.Errorf("output is not plain base64")
				}
			},
		},
		{
			name:     "[Functional] Sign: detached",
			format:   "der",
			detached: true,
			check: func(t *testing.T, out []byte) {
				if bytes.Contains(out, []byte("payment order")) {
					t.Errorf("detached signature contains the document")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			ks := tc.writeKeystore("signer.p12", "SIGNER")
			doc := tc.writeFile("order.txt", "payment order")
			out := tc.path("order.cms")

			args := []string{"sign", "--in", doc, "--keystore", ks, "--password", testPassword,
				"--format", tt.format, "-o", out}
			if tt.detached {
				args = append(args, "--detached")
			}
			output, err := executeCommand(rootCmd, args...)
			if err != nil {
				t.Fatalf("sign failed: %v\n%s", err, output)
			}
			if !strings.Contains(output, "Subject:       SIGNER") {
				t.Errorf("certificate summary missing:\n%s", output)
			}
			tt.check(t, tc.readFile(out))
		})
	}
}

func TestF_Sign_Errors(t *testing.T) {
	tc := newTestContext(t)
	ks := tc.writeKeystore("signer.p12", "SIGNER")
	doc := tc.writeFile("doc.txt", "content")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"[Functional] Sign: missing password", []string{"sign", "--in", doc, "--keystore", ks}, "--password is required"},
		{"[Functional] Sign: missing keystore", []string{"sign", "--in", doc, "--password", testPassword}, "--keystore is required"},
		{"[Functional] Sign: wrong password", []string{"sign", "--in", doc, "--keystore", ks, "--password", "bad"}, "Invalid password"},
		{"[Functional] Sign: bad format", []string{"sign", "--in", doc, "--keystore", ks, "--password", testPassword, "--format", "xml"}, "encoding"},
		{"[Functional] Sign: missing input", []string{"sign", "--in", tc.path("nope.txt"), "--keystore", ks, "--password", testPassword}, "failed to read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(rootCmd, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestF_Sign_PasswordFromEnv(t *testing.T) {
	tc := newTestContext(t)
	ks := tc.writeKeystore("signer.p12", "SIGNER")
	doc := tc.writeFile("doc.txt", "content")
	t.Setenv(EnvPassword, testPassword)

	out := tc.path("doc.cms")
	if output, err := executeCommand(rootCmd, "sign", "--in", doc, "--keystore", ks, "-o", out); err != nil {
		t.Fatalf("sign failed: %v\n%s", err, output)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("signature not written: %v", err)
	}
}

// =============================================================================
// Cert Info Tests
// =============================================================================

func TestF_CertInfo(t *testing.T) {
	tc := newTestContext(t)
	ks := tc.writeKeystore("signer.p12", "ASKAROV")

	output, err := executeCommand(rootCmd, "cert-info", "--keystore", ks, "--password", testPassword)
	if err != nil {
		t.Fatalf("cert-info failed: %v", err)
	}
	for _, want := range []string{"Subject:       ASKAROV", "Issuer:        NCA Test Root", "Serial Number: IINASKAROV"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}
