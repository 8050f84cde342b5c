package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qrv0/tensorstore/internal/artifact"
)

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <base>",
		Short: "Print the tensor directory and config of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			m, err := o.Inspect(cmd.Context(), a.location(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			fmt.Fprintf(out, "%s\n  size: %s  payload: %s  tensors: %d  directory: %s\n\n",
				m.Location, artifact.HumanBytes(m.Size), artifact.HumanBytes(int64(m.PayloadBytes)),
				len(m.Entries), m.Codec)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDTYPE\tSHAPE\tOFFSET\tSIZE\tXXH3")
			for _, e := range m.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\t%016x\n",
					e.Name, e.DType, e.Shape, e.Offset, artifact.HumanBytes(int64(e.Length)), e.Checksum)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")
	return cmd
}
