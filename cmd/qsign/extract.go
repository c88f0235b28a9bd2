package main

import (
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <cms-file>",
	Short: "Extract the signed content of a CMS",
	Long: `Recover the content encapsulated in a CMS SignedData without verifying it.

With --remote the content is extracted by the remote backend.

Examples:
  qsign extract contract.cms -o contract.pdf
  qsign extract contract.cms --remote -o contract.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var (
	extractOutput string
	extractRemote bool
)

func init() {
	extractCmd.Flags().StringVarP(&extractOutput, "out", "o", "", "Output file (default: stdout)")
	extractCmd.Flags().BoolVar(&extractRemote, "remote", false, "Extract with the remote backend")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	sig, err := readCMS(args[0])
	if err != nil {
		return err
	}
	svc, err := newService(cfg, newLogger())
	if err != nil {
		return err
	}

	var data []byte
	if extractRemote {
		data, err = svc.ExtractRemote(cmd.Context(), sig)
	} else {
		data, err = svc.Extract(cmd.Context(), sig)
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd, extractOutput, data)
}
