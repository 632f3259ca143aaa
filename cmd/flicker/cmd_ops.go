package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOpsCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the operations patches may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.registry()
			if err != nil {
				return err
			}
			ops := operations(reg)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ops)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tINPUTS\tPARAMS")
			for _, op := range ops {
				params := make([]string, len(op.Params))
				for i, p := range op.Params {
					params[i] = fmt.Sprintf("%s=%v", p.Name, p.Default)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", op.Name, op.Kind, op.Inputs, strings.Join(params, " "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
