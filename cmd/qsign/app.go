package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/config"
	"github.com/remiblancher/qsign/internal/keystore"
	"github.com/remiblancher/qsign/internal/payload"
	"github.com/remiblancher/qsign/internal/provider"
	"github.com/remiblancher/qsign/internal/provider/software"
	"github.com/remiblancher/qsign/internal/remote"
	"github.com/remiblancher/qsign/internal/service"
	"github.com/remiblancher/qsign/internal/tsa"
)

// EnvPassword supplies the keystore password when --password is not given.
const EnvPassword = "QSIGN_PASSWORD"

// keystoreFlags are shared by every command that loads a keystore.
type keystoreFlags struct {
	path     string
	password string
	storage  string
}

func (f *keystoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "keystore", "", "Keystore file, or key label for KAZTOKEN storage")
	cmd.Flags().StringVar(&f.password, "password", "", "Keystore password or token PIN (or set QSIGN_PASSWORD env var)")
	cmd.Flags().StringVar(&f.storage, "storage", "PKCS12", "Keystore kind: PKCS12, PEM or KAZTOKEN")
}

// resolve returns the keystore as base64 and the password.
func (f *keystoreFlags) resolve() (string, string, error) {
	password := f.password
	if password == "" {
		password = os.Getenv(EnvPassword)
	}
	if password == "" {
		return "", "", fmt.Errorf("--password is required")
	}

	if provider.ParseStorageKind(f.storage) == provider.StorageKazToken {
		return base64.StdEncoding.EncodeToString([]byte(f.path)), password, nil
	}
	if f.path == "" {
		return "", "", fmt.Errorf("--keystore is required")
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read keystore: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), password, nil
}

// newLogger returns the technical logger for commands.
func newLogger() *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "qsign: ", log.LstdFlags)
}

// newService wires the configured provider, TSA and remote backend.
func newService(c *config.Config, logger *log.Logger) (*service.Service, error) {
	h, err := newHandle(c, logger)
	if err != nil {
		return nil, err
	}
	return serviceFor(c, h, logger), nil
}

// newHandle builds the software provider from c.
func newHandle(c *config.Config, logger *log.Logger) (*provider.Handle, error) {
	digest, err := c.DigestHash()
	if err != nil {
		return nil, err
	}
	roots, intermediates, err := c.TrustPools()
	if err != nil {
		return nil, err
	}

	loader := &keystore.Loader{}
	tokenCfg, err := c.TokenConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load token config: %w", err)
	}
	if tokenCfg != nil {
		loader.Token = &keystore.TokenSource{Config: tokenCfg}
	}

	p := software.New(software.Config{
		Keystores:     loader,
		TSA:           tsa.NewClient(c.Signing.TSATimeout, c.Signing.TSAURLs...),
		Roots:         roots,
		Intermediates: intermediates,
		Digest:        digest,
		Logger:        logger,
	})

	return provider.NewHandle(p), nil
}

func serviceFor(c *config.Config, h *provider.Handle, logger *log.Logger) *service.Service {
	svcCfg := service.Config{Handle: h, Logger: logger}
	if c.Remote.URL != "" {
		svcCfg.Remote = remote.NewClient(c.Remote.URL, c.Remote.Timeout)
		svcCfg.RemoteExtraction = c.Remote.Extraction
	}
	return service.New(svcCfg)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readDocument returns a document base64 encoded.
func readDocument(path string) (string, error) {
	data, err := readInput(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// readCMS returns a CMS file as text. DER files are base64 encoded; PEM and
// base64 files pass through.
func readCMS(path string) (string, error) {
	data, err := readInput(path)
	if err != nil {
		return "", err
	}
	if looksTextual(data) {
		return string(data), nil
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// looksTextual reports whether data is PEM armor or a base64 body.
func looksTextual(data []byte) bool {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "-----BEGIN") {
		return true
	}
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
	return err == nil
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// decodeB64 decodes a base64 result for binary output.
func decodeB64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return data, nil
}

// outputFormat parses --format into the service encoding. DER output is
// produced by decoding the base64 result.
func outputFormat(format string) (payload.Encoding, bool, error) {
	switch strings.ToLower(format) {
	case "", "der":
		return payload.EncodingBase64, true, nil
	default:
		enc, err := payload.ParseEncoding(format)
		return enc, false, err
	}
}

// renderSignature turns a service result into file content.
func renderSignature(text string, der bool) ([]byte, error) {
	if der {
		return decodeB64(text)
	}
	return []byte(text), nil
}
