package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/service"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>...",
	Short: "Sign several documents with one keystore",
	Long: `Sign every file with the same keystore, loaded once.

A failing document does not stop the batch. Each signature is written to
<out-dir>/<file name>.cms.

Examples:
  qsign batch a.pdf b.pdf c.pdf --keystore AUTH_RSA.p12 --password Qwerty12 --out-dir signed/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var (
	batchOutDir    string
	batchFormat    string
	batchTimestamp bool
	batchKeystore  keystoreFlags
)

func init() {
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", ".", "Directory for the signatures")
	batchCmd.Flags().StringVar(&batchFormat, "format", "der", "Output format: der, base64 or pem")
	batchCmd.Flags().BoolVar(&batchTimestamp, "timestamp", false, "Add an RFC 3161 signature timestamp")
	batchKeystore.register(batchCmd)

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	enc, der, err := outputFormat(batchFormat)
	if err != nil {
		return err
	}
	ks, password, err := batchKeystore.resolve()
	if err != nil {
		return err
	}

	docs := make([]service.Document, 0, len(args))
	for _, path := range args {
		data, err := readDocument(path)
		if err != nil {
			return err
		}
		docs = append(docs, service.Document{FileName: filepath.Base(path), DocumentBase64: data})
	}

	if err := os.MkdirAll(batchOutDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}
	resp := svc.SignBatch(cmd.Context(), &service.BatchRequest{
		Documents:      docs,
		KeyStoreBase64: ks,
		Password:       password,
		StorageType:    batchKeystore.storage,
		Encoding:       enc,
		Timestamp:      batchTimestamp,
	})

	w := cmd.OutOrStdout()
	for _, r := range resp.Results {
		if !r.Success || r.SignatureBase64 == nil {
			msg := "unknown error"
			if r.ErrorMessage != nil {
				msg = *r.ErrorMessage
			}
			fmt.Fprintf(w, "  FAILED  %s: %s\n", r.FileName, msg)
			continue
		}
		out, err := renderSignature(*r.SignatureBase64, der)
		if err != nil {
			return err
		}
		path := filepath.Join(batchOutDir, r.FileName+".cms")
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(w, "  OK      %s -> %s\n", r.FileName, path)
	}
	fmt.Fprintln(w, resp.Message)

	if resp.FailedCount > 0 {
		return fmt.Errorf("%d of %d documents failed", resp.FailedCount, resp.TotalDocuments)
	}
	return nil
}
