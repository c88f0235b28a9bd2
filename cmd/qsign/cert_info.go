package main

import (
	"github.com/spf13/cobra"
)

var certInfoCmd = &cobra.Command{
	Use:   "cert-info",
	Short: "Show the keystore's signing certificate",
	Long: `Load a keystore and print its signing certificate.

Examples:
  qsign cert-info --keystore AUTH_RSA.p12 --password Qwerty12
  qsign cert-info --storage KAZTOKEN --password 123456`,
	RunE: runCertInfo,
}

var certInfoKeystore keystoreFlags

func init() {
	certInfoKeystore.register(certInfoCmd)
	rootCmd.AddCommand(certInfoCmd)
}

func runCertInfo(cmd *cobra.Command, args []string) error {
	ks, password, err := certInfoKeystore.resolve()
	if err != nil {
		return err
	}
	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}
	info, err := svc.CertificateInfo(cmd.Context(), ks, password, certInfoKeystore.storage)
	if err != nil {
		return err
	}
	printCertificate(cmd, "Certificate", info)
	return nil
}
