package main

import (
	"bytes"

	"github.com/chazu/flicker/pkg/patch"
	"github.com/spf13/cobra"
)

func newConvertCmd(c *cli) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "convert <patch>",
		Short: "Print a patch as YAML or JSON",
		Long: `convert loads a patch in any supported format, Lisp included, and prints
the node graph it describes as YAML or JSON.`,
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
			out, err := patch.Marshal(patch.Format(to), p)
			if err != nil {
				return err
			}
			if !bytes.HasSuffix(out, []byte("\n")) {
				out = append(out, '\n')
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", string(patch.FormatYAML), "output format: yaml or json")
	return cmd
}
