package cli

import (
	"fmt"

	"github.com/harun/uxorbit/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the uxorbit API server",
	Long: `Run the uxorbit API server in the foreground.
The server also runs the session reaper, the flow catalog watcher and the
stored report pruning job. SIGINT or SIGTERM shuts it down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	if daemon.ProcessAlive(daemon.PIDFile(cfg.DataDir)) {
		return fmt.Errorf("server is already running (PID file: %s)", daemon.PIDFile(cfg.DataDir))
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		if stopErr := d.Stop(); stopErr != nil {
			log.Error().Err(stopErr).Msg("Failed to clean up after start failure")
		}
		return err
	}

	d.Wait()
	return nil
}
