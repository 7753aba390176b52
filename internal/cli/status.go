package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/harun/uxorbit/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	statusServer  string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show server or session status",
	Long: `Without arguments, show whether the local uxorbit server is running.
With a session id, ask the server at --server for the session's status.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:5000", "uxorbit server URL")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		status, err := fetchSessionStatus(statusServer, args[0], statusTimeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\nStatus: %s\n", args[0], status)
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pidFile := daemon.PIDFile(cfg.DataDir)
	out := cmd.OutOrStdout()

	if !daemon.ProcessAlive(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}
	return nil
}

func fetchSessionStatus(server, id string, timeout time.Duration) (string, error) {
	endpoint := strings.TrimRight(server, "/") + "/api/sessions/" + url.PathEscape(id) + "/status"
	client := &http.Client{Timeout: timeout}

	resp, err := client.Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid server response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return body.Status, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
