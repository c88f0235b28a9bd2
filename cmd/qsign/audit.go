package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qsign/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for inspecting and verifying the signing audit log.

Each event is chained to the previous one with a SHA-256 hash, so edits,
deletions and insertions are detected.

Examples:
  qsign audit verify --log /var/log/qsign/audit.jsonl
  qsign audit tail --log /var/log/qsign/audit.jsonl -n 20`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

The chain starts with hash_prev="sha256:genesis" for the first event.`,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditVerifyCmd.MarkFlagRequired("log")

	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditTailCmd.MarkFlagRequired("log")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Verifying audit log: %s\n\n", auditLogFile)

	count, err := audit.VerifyChain(auditLogFile)
	if err != nil {
		fmt.Fprintf(w, "VERIFICATION FAILED\n")
		fmt.Fprintf(w, "  Valid events: %d\n", count)
		fmt.Fprintf(w, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(w, "VERIFICATION PASSED\n")
	fmt.Fprintf(w, "  Total events: %d\n", count)
	fmt.Fprintf(w, "  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	f, err := os.Open(auditLogFile)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Keep the last N lines
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > auditTailNum {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(lines) == 0 {
		fmt.Fprintln(w, "Audit log is empty")
		return nil
	}

	if auditShowJSON {
		fmt.Fprintln(w, "[")
		for i, line := range lines {
			if i > 0 {
				fmt.Fprintln(w, ",")
			}
			fmt.Fprint(w, line)
		}
		fmt.Fprintln(w, "\n]")
		return nil
	}

	for _, line := range lines {
		var event audit.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Fprintf(w, "  [ERROR] %s\n", err)
			continue
		}
		printEvent(w, &event)
	}
	return nil
}

func printEvent(w io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(w, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(w, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(w, "    Object: %s", e.Object.Type)
		if e.Object.Name != "" {
			fmt.Fprintf(w, " name=%s", e.Object.Name)
		}
		if e.Object.Serial != "" {
			fmt.Fprintf(w, " serial=%s", e.Object.Serial)
		}
		if e.Object.Subject != "" {
			fmt.Fprintf(w, " subject=%s", e.Object.Subject)
		}
		fmt.Fprintln(w)
	}

	c := e.Context
	if c.Storage != "" || c.Signers > 0 || c.Documents > 0 || c.Strategy != "" || c.Reason != "" {
		fmt.Fprint(w, "    Context:")
		if c.Storage != "" {
			fmt.Fprintf(w, " storage=%s", c.Storage)
		}
		if c.Signers > 0 {
			fmt.Fprintf(w, " signers=%d", c.Signers)
		}
		if c.Documents > 0 {
			fmt.Fprintf(w, " documents=%d failed=%d", c.Documents, c.Failed)
		}
		if c.Strategy != "" {
			fmt.Fprintf(w, " strategy=%s", c.Strategy)
		}
		if c.Reason != "" {
			fmt.Fprintf(w, " reason=%s", c.Reason)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
}
