package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/service"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <cms-file>",
	Short: "Verify a CMS signature",
	Long: `Verify a CMS SignedData signature.

For detached signatures, provide the signed document with --data. When the
provider does not recognize the signature, alternative strategies are tried
and reported.

With --remote the signature is sent to the remote verification backend
instead.

Examples:
  qsign verify contract.cms
  qsign verify contract.p7s --data contract.pdf
  qsign verify contract.cms --content-out contract.pdf
  qsign verify contract.cms --remote`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var (
	verifyData       string
	verifyContentOut string
	verifyRemote     bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyData, "data", "", "Signed document for a detached signature")
	verifyCmd.Flags().StringVar(&verifyContentOut, "content-out", "", "Write the signed content to this file")
	verifyCmd.Flags().BoolVar(&verifyRemote, "remote", false, "Verify with the remote backend")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	sig, err := readCMS(args[0])
	if err != nil {
		return err
	}
	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}
	if verifyRemote {
		return runVerifyRemote(cmd, svc, sig, args[0])
	}

	var original string
	if verifyData != "" {
		if original, err = readDocument(verifyData); err != nil {
			return err
		}
	}

	resp := svc.VerifyCMS(cmd.Context(), &service.VerifyRequest{
		CmsSignatureBase64:     sig,
		OriginalDocumentBase64: original,
	})
	w := cmd.OutOrStdout()
	if !resp.Success {
		fmt.Fprintf(w, "Signature: INVALID\n")
		if resp.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", resp.Reason)
		}
		return errors.New(resp.Message)
	}

	fmt.Fprintf(w, "Signature: VALID\n")
	fmt.Fprintf(w, "  %s\n", resp.Message)
	if resp.Alternative {
		fmt.Fprintf(w, "  Strategy: %s\n", resp.Strategy)
	}
	if resp.VerificationInfo != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(resp.VerificationInfo, "\n"))
	}
	printCertificate(cmd, "Signer certificate", resp.SignerCertificate)

	if verifyContentOut != "" && resp.ResultData != "" {
		content, err := base64.StdEncoding.DecodeString(resp.ResultData)
		if err != nil {
			return fmt.Errorf("failed to decode content: %w", err)
		}
		if err := writeOutput(cmd, verifyContentOut, content); err != nil {
			return err
		}
		fmt.Fprintf(w, "Content written to %s\n", verifyContentOut)
	}
	return nil
}

func runVerifyRemote(cmd *cobra.Command, svc *service.Service, sig, path string) error {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res, err := svc.VerifyRemote(cmd.Context(), sig, name)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Remote result: %s %s\n", res.Code, res.Message)
	if res.ResponseObject != nil {
		for _, si := range res.ResponseObject.SignerInfos {
			fmt.Fprintf(w, "  Signer #%d: %s (IIN %s) valid=%t\n", si.Number, si.Name, si.IIN, si.ValidSignature)
		}
	}
	if res.Code != "200" {
		return fmt.Errorf("remote verification failed: %s", res.Message)
	}
	return nil
}
