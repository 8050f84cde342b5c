package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/safetensors"
	"github.com/qrv0/tensorstore/internal/store"
	"github.com/qrv0/tensorstore/internal/tensor"
	"github.com/qrv0/tensorstore/internal/validate"
)

func newLoadCmd(a *app) *cobra.Command {
	var (
		device  string
		dt      string
		eager   bool
		against string
		atol    float64
	)
	cmd := &cobra.Command{
		Use:   "load <base>",
		Short: "Load every tensor of an artifact, optionally comparing with a reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("device") {
				a.cfg.Load.Device = device
			}
			if cmd.Flags().Changed("dtype") {
				a.cfg.Load.DType = dt
			}
			if cmd.Flags().Changed("eager") {
				a.cfg.Load.Eager = eager
			}
			loc := a.location(args[0])
			c, err := a.loadAll(cmd, loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if against == "" {
				for _, t := range c {
					fmt.Fprintf(out, "%-40s %-5s %v\n", t.Name, t.DType, t.Shape)
				}
				return nil
			}
			ref, err := safetensors.Load(cmd.Context(), a.res, against)
			if err != nil {
				return fmt.Errorf("read %s: %w", against, err)
			}
			report := validate.Compare(ref.Tensors, c, atol)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device (default from config, cpu)")
	cmd.Flags().StringVar(&dt, "dtype", "", "cast every tensor to this dtype, e.g. F16, bfloat16")
	cmd.Flags().BoolVar(&eager, "eager", false, "read every payload when the artifact is opened")
	cmd.Flags().StringVar(&against, "against", "", "reference .safetensors file to compare with")
	cmd.Flags().Float64Var(&atol, "atol", validate.DefaultAtol, "absolute tolerance for --against")
	return cmd
}

// loadAll declares a slot for every stored tensor and loads them all.
func (a *app) loadAll(cmd *cobra.Command, loc artifact.Location) (tensor.Collection, error) {
	o, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	m, err := o.Inspect(cmd.Context(), loc)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		names[i] = e.Name
	}
	opts, err := a.cfg.LoadOptions()
	if err != nil {
		return nil, err
	}
	target, err := o.Load(cmd.Context(), loc, artifact.SkeletonFactory(names...), opts)
	if err != nil {
		return nil, err
	}
	return target.(*store.Skeleton).Collection(), nil
}
