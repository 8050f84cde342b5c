package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/config"
	"github.com/qrv0/tensorstore/internal/storage"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	prefix     string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
	res *storage.Resolver
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tensorstore",
		Short: "Persist model tensors to compact, lazily readable artifacts",
		Long: `tensorstore writes the named tensors of a model to {prefix}.tensors with an
optional {prefix}-config.json sidecar, and reads them back.

Locations are local paths, s3://bucket/key, http(s):// (read-only) or mem://.

Examples:
  tensorstore save model.safetensors ./out
  tensorstore inspect ./out
  tensorstore load ./out --dtype F16 --against model.safetensors
  tensorstore export s3://models/llm ./llm.safetensors`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $"+config.EnvPath+")")
	pf.StringVar(&a.prefix, "prefix", "", "artifact name prefix (default from config, \"model\")")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newSaveCmd(a),
		newLoadCmd(a),
		newInspectCmd(a),
		newVerifyCmd(a),
		newExistsCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.prefix != "" {
		cfg.Artifact.Prefix = a.prefix
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	a.cfg, a.log, a.res = cfg, log, cfg.NewResolver()
	return nil
}

func (a *app) orchestrator() (*artifact.Orchestrator, error) {
	return a.cfg.NewOrchestrator(a.res, a.log)
}

func (a *app) location(base string) artifact.Location {
	return artifact.NewLocation(base, a.cfg.Artifact.Prefix)
}
