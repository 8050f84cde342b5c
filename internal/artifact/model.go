package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/store"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// Config is the JSON config sidecar.
type Config map[string]any

// Source supplies the tensors to save. tensor.Collection implements it.
type Source interface {
	Tensors() tensor.Collection
}

// ConfigProvider is implemented by sources that carry their own config.
// Save uses it when no explicit config is given.
type ConfigProvider interface {
	ModelConfig() (Config, error)
}

// Factory declares the empty target for a config. It must not allocate
// tensor payloads; the reader binds them afterwards. cfg is nil when no
// config artifact exists.
type Factory func(cfg Config) (store.Target, error)

// ConfigLoader parses a stored config into its structured form. When it
// fails, Load falls back to plain JSON once.
type ConfigLoader func(data []byte) (Config, error)

// LoadOptions control how Load materializes tensors.
type LoadOptions struct {
	// Device receives every tensor; nil means tensor.CPU.
	Device tensor.Device
	// DType casts every tensor; dtype.Invalid keeps slot or stored dtypes.
	DType dtype.DType
	// ConfigLoader, when set, makes the config artifact mandatory.
	ConfigLoader ConfigLoader
	// Eager reads every payload when the artifact is opened.
	Eager bool
	// SkipChecksums disables payload checksum verification.
	SkipChecksums bool
}

// Model pairs a Collection with a config so it can be saved without an
// explicit config argument.
type Model struct {
	tensor.Collection
	Cfg Config
}

func (m Model) ModelConfig() (Config, error) { return m.Cfg, nil }

func parseJSONConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("parse config: not a JSON object")
	}
	return cfg, nil
}

// SkeletonFactory declares one slot per name, keeping stored dtypes.
func SkeletonFactory(names ...string) Factory {
	return func(Config) (store.Target, error) {
		sk := store.NewSkeleton()
		for _, n := range names {
			sk.Declare(n, dtype.Invalid)
		}
		return sk, nil
	}
}
