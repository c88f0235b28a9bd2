package main

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/api/router"
	"github.com/remiblancher/qsign/internal/api/server"
	"github.com/remiblancher/qsign/internal/provider"
)

// serving is set while the HTTP server owns signal handling.
var serving atomic.Bool

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP signing API",
	Long: `Start the HTTP signing API.

Endpoints:
  POST /api/sign                    Sign one document
  POST /api/sign/batch              Sign several documents
  POST /api/sign/cosign             Add a signature to a CMS
  POST /api/sign/certificate/info   Describe a keystore certificate
  POST /api/sign/verify             Verify a CMS
  POST /api/sign/extract            Extract CMS content
  POST /api/verify                  Verify with the remote backend
  POST /api/verify/extract          Extract with the remote backend
  GET  /health, /ready

Flags override the server section of the configuration file.

Environment variables:
  QSIGN_PORT        Listen port
  QSIGN_TSA_URL     Comma separated TSA URLs
  QSIGN_REMOTE_URL  Remote verification backend

Examples:
  qsign serve
  qsign serve --config /etc/qsign/qsign.yaml
  qsign serve --port 8443 --tls-cert server.crt --tls-key server.key`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: 5000)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := cfg.Server
	if servePort != 0 {
		sc.Port = servePort
	}
	if serveHost != "" {
		sc.Host = serveHost
	}
	if serveTLSCert != "" {
		sc.TLSCert = serveTLSCert
	}
	if serveTLSKey != "" {
		sc.TLSKey = serveTLSKey
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	h, err := newHandle(cfg, logger)
	if err != nil {
		return err
	}
	svc := serviceFor(cfg, h, logger)

	handler := router.New(&router.Config{
		Service:     svc,
		Version:     version,
		CORSOrigins: sc.CORSOrigins,
		Checks:      map[string]func() bool{"provider": providerReady(h)},
	})

	serving.Store(true)
	defer serving.Store(false)
	return server.New(sc, handler, version, logger).Start(cmd.Context())
}

// providerReady reports whether the provider can be acquired within a
// short wait.
func providerReady(h *provider.Handle) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sess, err := h.Acquire(ctx)
		if err != nil {
			return false
		}
		sess.Release()
		return true
	}
}
