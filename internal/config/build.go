package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qrv0/tensorstore/internal/artifact"
	"github.com/qrv0/tensorstore/internal/storage"
)

// NewLogger builds a zap logger at the configured level. Log lines go to
// stderr so that command output on stdout stays machine readable.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// NewResolver registers every backend: local paths, s3://, http(s):// and
// mem://. The S3 client is only contacted when an s3:// location is used.
func (c *Config) NewResolver() *storage.Resolver {
	r := storage.NewResolver()
	s3c := c.Storage.S3
	r.Register("s3", storage.NewS3(storage.NewS3Client(storage.S3Options{
		Region:          s3c.Region,
		Endpoint:        s3c.Endpoint,
		PathStyle:       s3c.PathStyle,
		AccessKeyID:     s3c.AccessKeyID,
		SecretAccessKey: s3c.SecretAccessKey,
		SessionToken:    s3c.SessionToken,
	}), s3c.Region))
	h := storage.NewHTTP(c.HTTPTimeout())
	r.Register("http", h)
	r.Register("https", h)
	r.Register("mem", storage.NewMemory())
	return r
}

// NewOrchestrator wires the resolver, the directory codec and a zap sink.
func (c *Config) NewOrchestrator(r *storage.Resolver, log *zap.Logger) (*artifact.Orchestrator, error) {
	codec, err := c.Codec()
	if err != nil {
		return nil, err
	}
	return artifact.New(r,
		artifact.WithCodec(codec),
		artifact.WithSink(artifact.NewZapSink(log)),
	), nil
}
