// Command qsign signs, co-signs and verifies CMS documents for the
// Kazakhstan national PKI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/audit"
	"github.com/remiblancher/qsign/internal/config"
	"github.com/remiblancher/qsign/internal/crypto"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
	verbose      bool
)

// cfg is loaded by the root command before any subcommand runs.
var cfg *config.Config

func main() {
	// Release PKCS#11 sessions on SIGINT/SIGTERM
	setupSignalHandler()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		crypto.CloseAllPools()
		os.Exit(1)
	}

	crypto.CloseAllPools()
}

// setupSignalHandler closes token sessions before exiting on a signal.
// The serve command handles its own shutdown and is not interrupted here.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if serving.Load() {
			return
		}
		crypto.CloseAllPools()
		os.Exit(0)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "qsign",
	Short: "CMS signing, co-signing and verification for the Kazakhstan PKI",
	Long: `qsign signs documents as CMS SignedData, adds signatures to existing CMS
signatures, verifies them and recovers the signed content.

Keystores are PKCS#12 files (default), PEM bundles, or PKCS#11 tokens
(--storage KAZTOKEN with a token configuration file).

Examples:
  # Sign a document
  qsign sign --in contract.pdf --keystore AUTH_RSA.p12 --password Qwerty12 -o contract.cms

  # Add a second signature
  qsign cosign contract.cms --keystore GOST512.p12 --password Qwerty12 -o contract.cms

  # Verify and extract the content
  qsign verify contract.cms --content-out contract.pdf

  # Run the HTTP API
  qsign serve --config qsign.yaml`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if auditLogPath == "" {
			auditLogPath = cfg.Audit.Log
		}
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to configuration file (or set QSIGN_CONFIG env var)")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set QSIGN_AUDIT_LOG env var)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log provider activity to stderr")
}
