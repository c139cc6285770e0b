package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/harun/resolvemcp/pkg/commands"
	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/session"
)

var listSchema bool

var listCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the registered commands",
	Long: `List every registered command with its description and parameters.
Nothing is dialed; the registry is built offline.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listSchema, "schema", false, "print the JSON input schema of every command")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	queue := commandqueue.New()
	defer queue.Close()

	d := dispatch.New(session.New(nil, nil), queue, dispatch.Options{})
	if err := commands.Register(d, commands.Options{}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listSchema {
		schemas := make(map[string]any)
		for _, c := range d.Commands() {
			schemas[c.Name] = c.InputSchema()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, c := range d.Commands() {
		fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Description)
		if len(c.Parameters) > 0 {
			fmt.Fprintf(w, "\tparams: %s\n", formatParams(c.Parameters))
		}
	}
	return w.Flush()
}

func formatParams(params []dispatch.Parameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name + ":" + p.Type
		if p.Required {
			s += "*"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
