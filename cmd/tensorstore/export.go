package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/safetensors"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <base> <out.safetensors>",
		Short: "Write the tensors of an artifact to a .safetensors file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadAll(cmd, a.location(args[0]))
			if err != nil {
				return err
			}
			n, err := safetensors.Save(cmd.Context(), a.res, args[1], c, map[string]string{"format": "pt"})
			if err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tensors, %s\n", args[1], len(c), artifact.HumanBytes(n))
			return nil
		},
	}
}
