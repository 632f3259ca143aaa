package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/flicker/pkg/engine"
	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/patch"
	"github.com/spf13/cobra"
)

// errPatchHasErrors makes the process exit non-zero once the report has
// been printed.
var errPatchHasErrors = errors.New("patch has errors")

func newValidateCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate <patch>",
		Short: "Check a patch without rendering it",
		Long: `validate loads a patch and reports every structural problem, parameter
problem and missing connection, exactly as the editor would show them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.registry()
			if err != nil {
				return err
			}
			p, err := patch.Load(cmd.Context(), args[0], reg)
			if err != nil {
				return err
			}

			res := graph.Validate(p.Nodes, p.Edges, c.numOutputs(), reg)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printIssues(cmd.OutOrStdout(), res.Issues)
			}

			if res.HasErrors() {
				return errPatchHasErrors
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full validation result as JSON")
	return cmd
}

func (c *cli) numOutputs() int {
	if c.cfg.Runtime.Outputs > 0 {
		return c.cfg.Runtime.Outputs
	}
	return engine.DefaultNumOutputs
}

func printIssues(w io.Writer, issues []graph.Issue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, "ok")
		return
	}
	for _, is := range issues {
		fmt.Fprintln(w, is.Error())
	}
}
