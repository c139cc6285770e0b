package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/internal/config"
	"github.com/harun/resolvemcp/internal/daemon"
	"github.com/harun/resolvemcp/internal/logger"
)

// version is overridden at build time with -ldflags "-X ...cli.version=..."
var version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// newDaemon builds the runtime; tests swap it to inject a fake connector.
var newDaemon = daemon.New

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "resolvemcp",
	Short: "resolvemcp - MCP server for DaVinci Resolve",
	Long: `resolvemcp exposes a running DaVinci Resolve session to MCP clients.
It keeps the Resolve session alive across restarts and project switches,
and dispatches project, timeline, media pool and scripting commands.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.resolvemcp/resolvemcp.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// openDaemon loads config and builds an unstarted daemon. override, if set,
// adjusts the config before it is validated; watch enables hot reload. The
// returned closer stops the daemon and the logger.
func openDaemon(watch bool, override func(*config.Config)) (*daemon.Daemon, func(), error) {
	cfg, loader, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if override != nil {
		override(cfg)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := &daemon.Options{Version: version}
	if watch {
		opts.ConfigPath = loader.GetConfigPath()
	}

	d, err := newDaemon(cfg, log, opts)
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}
	return d, func() {
		_ = d.Stop()
		_ = log.Close()
	}, nil
}
