package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/service"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a document as CMS SignedData",
	Long: `Sign a document with the keystore's identity.

The signature is attached (content included) unless --detached is set.
Output is DER by default; use --format base64 or --format pem for text.

Examples:
  # Attached signature
  qsign sign --in contract.pdf --keystore AUTH_RSA.p12 --password Qwerty12 -o contract.cms

  # Detached, timestamped, PEM armored
  qsign sign --in contract.pdf --keystore AUTH_RSA.p12 --detached --timestamp --format pem -o contract.p7s

  # Sign with a PKCS#11 token key
  qsign sign --in contract.pdf --storage KAZTOKEN --keystore "SIGN key" --password 123456 -o contract.cms`,
	RunE: runSign,
}

var (
	signInput     string
	signOutput    string
	signFormat    string
	signDetached  bool
	signTimestamp bool
	signKeystore  keystoreFlags
)

func init() {
	signCmd.Flags().StringVar(&signInput, "in", "", "Document to sign, - for stdin (required)")
	signCmd.Flags().StringVarP(&signOutput, "out", "o", "", "Output file (default: stdout)")
	signCmd.Flags().StringVar(&signFormat, "format", "der", "Output format: der, base64 or pem")
	signCmd.Flags().BoolVar(&signDetached, "detached", false, "Create a detached signature")
	signCmd.Flags().BoolVar(&signTimestamp, "timestamp", false, "Add an RFC 3161 signature timestamp")
	signKeystore.register(signCmd)
	_ = signCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(signCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
	enc, der, err := outputFormat(signFormat)
	if err != nil {
		return err
	}
	ks, password, err := signKeystore.resolve()
	if err != nil {
		return err
	}
	doc, err := readDocument(signInput)
	if err != nil {
		return err
	}

	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}
	resp, err := svc.SignDocument(cmd.Context(), &service.SignRequest{
		FileName:       filepath.Base(signInput),
		DocumentBase64: doc,
		KeyStoreBase64: ks,
		Password:       password,
		StorageType:    signKeystore.storage,
		Encoding:       enc,
		Detached:       signDetached,
		Timestamp:      signTimestamp,
	})
	if err != nil {
		return err
	}

	out, err := renderSignature(resp.SignatureBase64, der)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, signOutput, out); err != nil {
		return err
	}
	if signOutput != "" {
		printCertificate(cmd, "Signed by", resp.CertificateInfo)
		fmt.Fprintf(cmd.OutOrStdout(), "Signature written to %s\n", signOutput)
	}
	return nil
}

// printCertificate prints a certificate summary.
func printCertificate(cmd *cobra.Command, title string, info *service.CertificateInfo) {
	if info == nil {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Subject:       %s\n", info.Subject)
	fmt.Fprintf(w, "  Issuer:        %s\n", info.Issuer)
	fmt.Fprintf(w, "  Serial Number: %s\n", info.SerialNumber)
	fmt.Fprintf(w, "  Valid From:    %s\n", info.ValidFrom)
	fmt.Fprintf(w, "  Valid To:      %s\n", info.ValidTo)
}
