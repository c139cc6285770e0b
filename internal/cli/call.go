package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/pkg/dispatch"
)

var callParams string

var callCmd = &cobra.Command{
	Use:   "call <command>",
	Short: "Run one command against Resolve",
	Long: `Run one registered command against the live Resolve session and print
its JSON result. Parameters are passed as a JSON object, for example:

  resolvemcp call get_timeline_info --params '{"timeline_name":"Main"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callParams, "params", "{}", "command parameters as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(callParams), &params); err != nil {
		return fmt.Errorf("--params must be a JSON object: %w", err)
	}

	d, closeFn, err := openDaemon(false, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	res := d.Dispatch(cmd.Context(), dispatch.Request{Name: args[0], Params: params}, "cli")
	fmt.Fprintln(cmd.OutOrStdout(), res.JSON())

	if res.Status == dispatch.StatusError {
		return fmt.Errorf("%s failed: %s", args[0], res.Kind)
	}
	return nil
}
