package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show HTTP server status",
	Long: `Show whether a resolvemcp HTTP server is running for this data directory.
Stdio servers are owned by their MCP client and are not tracked.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func lifecycleManager() (*daemon.LifecycleManager, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop()), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	lm, err := lifecycleManager()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// the PID file is written at start
	if info, err := os.Stat(lm.PIDFile()); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}
	return nil
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
