// Package artifact saves and loads models as a tensor artifact plus an
// optional JSON config sidecar.
//
// Save is idempotent: each artifact is written only when it does not exist
// yet or when force is set. There is no locking across processes;
// concurrent savers to one location race and the last one wins.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"

	"github.com/qrv0/tensorstore/internal/format"
	"github.com/qrv0/tensorstore/internal/storage"
	"github.com/qrv0/tensorstore/internal/store"
	"github.com/qrv0/tensorstore/internal/tensor"
)

type Orchestrator struct {
	storage *storage.Resolver
	sink    Sink
	codec   format.Codec
	now     func() time.Time
}

type Option func(*Orchestrator)

func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithCodec sets the directory codec of written tensor artifacts.
func WithCodec(c format.Codec) Option {
	return func(o *Orchestrator) { o.codec = c }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(r *storage.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		storage: r,
		sink:    Discard,
		codec:   format.DefaultCodec,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Save writes the config and tensor artifacts of src to loc. Each artifact
// is written only if it is absent or force is set. A nil cfg is taken from
// src when it implements ConfigProvider; otherwise no config artifact is
// written.
func (o *Orchestrator) Save(ctx context.Context, src Source, cfg Config, loc Location, force bool) error {
	cfgPath, tensorPath := loc.ConfigPath(), loc.TensorPath()
	cfgExists, err := o.storage.Probe(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("probe %s: %w", cfgPath, err)
	}
	tensorsExist, err := o.storage.Probe(ctx, tensorPath)
	if err != nil {
		return fmt.Errorf("probe %s: %w", tensorPath, err)
	}

	if cfg == nil {
		if p, ok := src.(ConfigProvider); ok {
			if cfg, err = p.ModelConfig(); err != nil {
				return fmt.Errorf("model config: %w", err)
			}
		}
	}

	switch {
	case cfg == nil:
		o.sink.Emit(Event{Kind: ConfigSkipped, Path: cfgPath, Reason: "no config"})
	case cfgExists && !force:
		o.sink.Emit(Event{Kind: ConfigSkipped, Path: cfgPath, Reason: "exists"})
	default:
		if err := o.writeConfig(ctx, cfgPath, cfg); err != nil {
			return err
		}
	}

	if tensorsExist && !force {
		o.sink.Emit(Event{Kind: TensorsSkipped, Path: tensorPath, Reason: "exists"})
		return nil
	}
	return o.writeTensors(ctx, tensorPath, src.Tensors())
}

func (o *Orchestrator) writeConfig(ctx context.Context, path string, cfg Config) error {
	start := o.now()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := o.storage.WriteAll(ctx, path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	o.sink.Emit(Event{Kind: ConfigWritten, Path: path, Bytes: int64(len(data)), Elapsed: o.now().Sub(start)})
	return nil
}

func (o *Orchestrator) writeTensors(ctx context.Context, path string, c tensor.Collection) error {
	start := o.now()
	w, err := o.storage.Create(ctx, path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := store.Write(ctxWriter{ctx: ctx, w: w}, c, store.WithCodec(o.codec))
	if err != nil {
		w.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	elapsed := o.now().Sub(start)
	o.sink.Emit(Event{Kind: TensorsWritten, Path: path, Bytes: n, Elapsed: elapsed, Rate: rate(n, elapsed)})
	return nil
}

// ctxWriter stops a write pass once ctx is done.
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c ctxWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}

// Load opens the tensor artifact at loc lazily, builds the target from the
// stored config with factory and binds the stored tensors into it. Slots
// without a stored tensor keep their initial value.
func (o *Orchestrator) Load(ctx context.Context, loc Location, factory Factory, opts LoadOptions) (store.Target, error) {
	start := o.now()
	path := loc.TensorPath()
	obj, err := o.storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := store.OpenObject(obj,
		store.WithLazy(!opts.Eager),
		store.WithDevice(opts.Device),
		store.WithDType(opts.DType),
		store.WithChecksums(!opts.SkipChecksums),
		store.WithCastHook(func(e *store.DTypeMismatchError) {
			o.sink.Emit(Event{Kind: DTypeCast, Path: path, Cast: e})
		}))
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	cfg, cfgBytes, err := o.loadConfig(ctx, loc.ConfigPath(), opts.ConfigLoader)
	if err != nil {
		return nil, err
	}
	target, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build target: %w", err)
	}
	if target == nil {
		return nil, errors.New("build target: factory returned nil")
	}
	missing, err := r.LoadInto(target)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	n := r.TotalBytesRead() + cfgBytes
	elapsed := o.now().Sub(start)
	o.sink.Emit(Event{Kind: LoadCompleted, Path: path, Bytes: n, Elapsed: elapsed, Rate: rate(n, elapsed), Missing: missing})
	return target, nil
}

// loadConfig reads the config sidecar. Without a loader a missing sidecar
// yields a nil config; with one it is an error.
func (o *Orchestrator) loadConfig(ctx context.Context, path string, loader ConfigLoader) (Config, int64, error) {
	data, err := o.storage.ReadAll(ctx, path)
	if err != nil {
		if storage.IsNotFound(err) && loader == nil {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	n := int64(len(data))
	if loader == nil {
		cfg, err := parseJSONConfig(data)
		if err != nil {
			return nil, n, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, n, nil
	}
	cfg, structErr := loader(data)
	if structErr == nil {
		return cfg, n, nil
	}
	cfg, jsonErr := parseJSONConfig(data)
	if jsonErr != nil {
		return nil, n, fmt.Errorf("%s: %w", path, multierr.Combine(structErr, jsonErr))
	}
	o.sink.Emit(Event{Kind: ConfigFallback, Path: path, Err: structErr})
	return cfg, n, nil
}

// Exists reports whether the tensor artifact at loc holds any data.
func (o *Orchestrator) Exists(ctx context.Context, loc Location) (bool, error) {
	return o.storage.Probe(ctx, loc.TensorPath())
}

// Manifest describes a saved model without reading any payload.
type Manifest struct {
	Location     string         `json:"location"`
	Size         int64          `json:"size"`
	Codec        string         `json:"directory_codec"`
	PayloadBytes uint64         `json:"payload_bytes"`
	Entries      []format.Entry `json:"tensors"`
	Config       Config         `json:"config,omitempty"`
}

// Inspect reads the directory and the config sidecar of loc.
func (o *Orchestrator) Inspect(ctx context.Context, loc Location) (*Manifest, error) {
	path := loc.TensorPath()
	obj, err := o.storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := store.OpenObject(obj, store.WithLazy(true))
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	cfg, _, err := o.loadConfig(ctx, loc.ConfigPath(), nil)
	if err != nil {
		return nil, err
	}
	dir := r.Directory()
	return &Manifest{
		Location:     loc.String(),
		Size:         obj.Size(),
		Codec:        dir.Footer.Codec.String(),
		PayloadBytes: dir.PayloadBytes(),
		Entries:      dir.Entries,
		Config:       cfg,
	}, nil
}

// Verify reads every record of the tensor artifact at loc and checks its
// header and payload checksum.
func (o *Orchestrator) Verify(ctx context.Context, loc Location) error {
	path := loc.TensorPath()
	obj, err := o.storage.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	r, err := store.OpenObject(obj, store.WithLazy(true))
	if err != nil {
		obj.Close()
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()
	if err := r.Verify(); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	return nil
}
