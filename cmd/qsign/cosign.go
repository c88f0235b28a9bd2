package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/service"
)

var cosignCmd = &cobra.Command{
	Use:   "cosign <cms-file>",
	Short: "Add a signature to an existing CMS",
	Long: `Add the keystore's signature to an existing CMS SignedData.

Every existing signer is preserved. The signed content is recovered from
the CMS unless --original is given (required for detached signatures).
The new signature is timestamped by the configured TSA unless
--no-timestamp is set.

Examples:
  qsign cosign contract.cms --keystore GOST512.p12 --password Qwerty12 -o contract.cms
  qsign cosign contract.p7s --original contract.pdf --keystore GOST512.p12 -o contract.p7s`,
	Args: cobra.ExactArgs(1),
	RunE: runCoSign,
}

var (
	cosignOriginal    string
	cosignOutput      string
	cosignFormat      string
	cosignNoTimestamp bool
	cosignKeystore    keystoreFlags
)

func init() {
	cosignCmd.Flags().StringVar(&cosignOriginal, "original", "", "Original document (default: recovered from the CMS)")
	cosignCmd.Flags().StringVarP(&cosignOutput, "out", "o", "", "Output file (default: stdout)")
	cosignCmd.Flags().StringVar(&cosignFormat, "format", "der", "Output format: der, base64 or pem")
	cosignCmd.Flags().BoolVar(&cosignNoTimestamp, "no-timestamp", false, "Do not add an RFC 3161 signature timestamp")
	cosignKeystore.register(cosignCmd)

	rootCmd.AddCommand(cosignCmd)
}

func runCoSign(cmd *cobra.Command, args []string) error {
	enc, der, err := outputFormat(cosignFormat)
	if err != nil {
		return err
	}
	ks, password, err := cosignKeystore.resolve()
	if err != nil {
		return err
	}
	existing, err := readCMS(args[0])
	if err != nil {
		return err
	}
	var original string
	if cosignOriginal != "" {
		if original, err = readDocument(cosignOriginal); err != nil {
			return err
		}
	}

	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}
	resp, err := svc.CoSign(cmd.Context(), &service.CoSignRequest{
		ExistingCmsBase64:      existing,
		OriginalDocumentBase64: original,
		KeyStoreBase64:         ks,
		Password:               password,
		StorageType:            cosignKeystore.storage,
		Encoding:               enc,
		NoTimestamp:            cosignNoTimestamp,
	})
	if err != nil {
		return err
	}

	out, err := renderSignature(resp.SignatureBase64, der)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, cosignOutput, out); err != nil {
		return err
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %s\n", w)
	}
	if cosignOutput != "" {
		printCertificate(cmd, "Co-signed by", resp.CertificateInfo)
		fmt.Fprintf(cmd.OutOrStdout(), "Signers: %d -> %d\n", resp.SignersBefore, resp.SignersAfter)
		fmt.Fprintf(cmd.OutOrStdout(), "Signature written to %s\n", cosignOutput)
	}
	return nil
}
