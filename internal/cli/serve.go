package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/internal/config"
)

var (
	serveTransport string
	serveHTTPAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command registry over MCP",
	Long: `Serve every registered command as an MCP tool.
The stdio transport is meant to be spawned by an MCP client; the http
transport runs a long-lived streamable HTTP endpoint at /mcp.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport override (stdio, http)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", "", "listen address override for the http transport")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openDaemon(true, func(cfg *config.Config) {
		if serveTransport != "" {
			cfg.Server.Transport = serveTransport
		}
		if serveHTTPAddr != "" {
			cfg.Server.HTTPAddr = serveHTTPAddr
		}
	})
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
