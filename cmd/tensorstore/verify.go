package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qrv0/tensorstore/internal/artifact"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <base>",
		Short: "Check every record header and payload checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			loc := a.location(args[0])
			if err := o.Verify(cmd.Context(), loc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", loc)
			return nil
		},
	}
}

func newExistsCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "exists <base/prefix>",
		Short: "Report whether the tensor artifact exists; exits 1 if it does not",
		Long: `Exists checks {base}/{prefix}.tensors. The argument is split at its last
separator, so "out/model" checks out/model.tensors. With --prefix the whole
argument is the base.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			loc := artifact.ParseLocation(args[0])
			if a.prefix != "" {
				loc = a.location(args[0])
			}
			ok, err := o.Exists(cmd.Context(), loc)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), ok)
			}
			if !ok {
				return fmt.Errorf("%s does not exist", loc.TensorPath())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only set the exit status")
	return cmd
}
