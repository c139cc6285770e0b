package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/internal/observability"
)

var (
	auditType  string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit events",
	Long:  `Show the most recent commands, scripts and config reloads from the audit store.`,
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditType, "type", "", "event type filter (command, script, config)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum number of events")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit is disabled in the configuration")
	}

	store, err := observability.OpenAuditStore(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(cmd.Context(), auditType, auditLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tACTOR\tACTION\tSTATUS")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Type, e.Actor, e.Action, e.Status)
	}
	return w.Flush()
}
