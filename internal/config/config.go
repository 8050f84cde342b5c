// Package config loads the tensorstore YAML configuration and builds the
// logger, storage resolver and orchestrator it describes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/format"
	"github.com/qrv0/tensorstore/internal/tensor"
)

// EnvPath names the environment variable consulted when no --config flag
// is given.
const EnvPath = "TENSORSTORE_CONFIG"

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Load     LoadConfig     `yaml:"load"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the console encoder.
	Development bool `yaml:"development,omitempty"`
}

type StorageConfig struct {
	S3   S3Config   `yaml:"s3"`
	HTTP HTTPConfig `yaml:"http"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`
}

type HTTPConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type ArtifactConfig struct {
	Prefix string `yaml:"prefix"`
	// DirectoryCodec is one of none, zstd, lz4.
	DirectoryCodec  string `yaml:"directory_codec"`
	VerifyChecksums bool   `yaml:"verify_checksums"`
}

type LoadConfig struct {
	Device string `yaml:"device"`
	// DType, when set, casts every loaded tensor.
	DType string `yaml:"dtype,omitempty"`
	Eager bool   `yaml:"eager,omitempty"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			S3:   S3Config{Region: "us-east-1"},
			HTTP: HTTPConfig{TimeoutSeconds: 300},
		},
		Artifact: ArtifactConfig{
			Prefix:          artifact.DefaultPrefix,
			DirectoryCodec:  format.DefaultCodec.String(),
			VerifyChecksums: true,
		},
		Load: LoadConfig{Device: tensor.CPU.Name()},
	}
}

// Load reads the YAML file at path over the defaults. An empty path falls
// back to $TENSORSTORE_CONFIG; if that is unset too, or the file named by
// the environment does not exist, the defaults are returned.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPath)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	if _, err := c.Codec(); err != nil {
		return err
	}
	if _, err := c.LoadDType(); err != nil {
		return err
	}
	if c.Storage.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("storage.http.timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) Codec() (format.Codec, error) {
	return format.ParseCodec(c.Artifact.DirectoryCodec)
}

// LoadDType returns dtype.Invalid when no cast is configured.
func (c *Config) LoadDType() (dtype.DType, error) {
	if c.Load.DType == "" {
		return dtype.Invalid, nil
	}
	return dtype.Parse(c.Load.DType)
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Storage.HTTP.TimeoutSeconds) * time.Second
}

// LoadOptions maps the load section onto orchestrator options.
func (c *Config) LoadOptions() (artifact.LoadOptions, error) {
	dev, err := tensor.ParseDevice(c.Load.Device)
	if err != nil {
		return artifact.LoadOptions{}, err
	}
	dt, err := c.LoadDType()
	if err != nil {
		return artifact.LoadOptions{}, err
	}
	return artifact.LoadOptions{
		Device:        dev,
		DType:         dt,
		Eager:         c.Load.Eager,
		SkipChecksums: !c.Artifact.VerifyChecksums,
	}, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
