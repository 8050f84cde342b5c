package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/safetensors"
	"github.com/qrv0/tensorstore/internal/storage"
)

func newSaveCmd(a *app) *cobra.Command {
	var (
		configFile string
		noConfig   bool
		force      bool
		codec      string
	)
	cmd := &cobra.Command{
		Use:   "save <model.safetensors> <base>",
		Short: "Save a .safetensors model as a tensor store artifact",
		Long: `Save reads every tensor of a .safetensors file and writes {base}/{prefix}.tensors.
A config.json next to the input, or the file given with --config-file, becomes
{base}/{prefix}-config.json. Artifacts that already exist are left alone unless
--force is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if codec != "" {
				a.cfg.Artifact.DirectoryCodec = codec
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			f, err := safetensors.Load(ctx, a.res, args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var cfg artifact.Config
			if !noConfig {
				if cfg, err = a.readModelConfig(cmd, args[0], configFile); err != nil {
					return err
				}
			}
			loc := a.location(args[1])
			if err := o.Save(ctx, f.Tensors, cfg, loc, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tensors, %s\n",
				loc, len(f.Tensors), artifact.HumanBytes(f.Tensors.ByteSize()))
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "model config JSON (default: config.json next to the input)")
	cmd.Flags().BoolVar(&noConfig, "no-config", false, "do not write a config artifact")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing artifacts")
	cmd.Flags().StringVar(&codec, "codec", "", "directory codec: none, zstd, lz4")
	return cmd
}

// readModelConfig reads an explicit config file, or a config.json sibling
// of the input if one exists.
func (a *app) readModelConfig(cmd *cobra.Command, input, explicit string) (artifact.Config, error) {
	path := explicit
	if path == "" {
		path = sibling(input, "config.json")
	}
	data, err := a.res.ReadAll(cmd.Context(), path)
	if err != nil {
		if explicit == "" && storage.IsNotFound(err) {
			a.log.Debug("no model config found", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg artifact.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func sibling(uri, name string) string {
	i := strings.LastIndexAny(uri, "/"+string(filepath.Separator))
	if i < 0 {
		return name
	}
	return uri[:i+1] + name
}
