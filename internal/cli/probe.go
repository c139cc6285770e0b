package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/pkg/session"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that Resolve is reachable",
	Long: `Connect to Resolve through the scripting bridge once and report whether
the session is alive. Exits non-zero when Resolve cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	d, closeFn, err := openDaemon(false, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	outcome := d.Probe(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Resolve: %s\n", outcome)
	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", d.GetSessions().State())

	if outcome == session.OutcomeLost {
		return fmt.Errorf("resolve is not reachable at %s", d.GetConfig().Bridge.URL)
	}
	return nil
}
