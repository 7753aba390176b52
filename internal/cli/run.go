package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/uxorbit/internal/daemon"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/report"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/spf13/cobra"
)

var (
	runAgents []string
	runFlows  []string
	runFormat string
	runOut    string
)

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Test one page in-process and write the report",
	Long: `Run the selected agents against a URL without starting the server.
The report is written to --out, or to stdout when --out is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runAgents, "agents", []string{"form", "navigation", "feedback"}, "agents to run")
	runCmd.Flags().StringSliceVar(&runFlows, "flows", nil, "named flows for the navigation agent")
	runCmd.Flags().StringVar(&runFormat, "format", "json", "report format (json, csv, html, pdf, zip)")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(runFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Keep stdout clean for the report.
	cfg.Logging.Console = runOut != ""

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, status, err := d.RunOnce(ctx, orchestrator.Request{URL: args[0], Agents: runAgents, Flows: runFlows})
	if err != nil {
		return err
	}

	doc, err := d.Renderer().Render(ctx, rep, format)
	if err != nil {
		return err
	}
	if err := writeDocument(cmd, doc); err != nil {
		return err
	}

	if status == session.StatusFailed {
		return fmt.Errorf("session failed: %s", rep.Summary)
	}
	return nil
}

func writeDocument(cmd *cobra.Command, doc *report.Document) error {
	if runOut == "" {
		_, err := cmd.OutOrStdout().Write(doc.Data)
		return err
	}
	if err := os.WriteFile(runOut, doc.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", runOut)
	return nil
}

// cmdContext returns the command context, or Background outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
