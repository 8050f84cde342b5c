package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrv0/tensorstore/internal/dtype"
	"github.com/qrv0/tensorstore/internal/format"
	"github.com/qrv0/tensorstore/internal/storage"
	"github.com/qrv0/tensorstore/internal/store"
	"github.com/qrv0/tensorstore/internal/tensor"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ks []EventKind
	for _, e := range r.events {
		ks = append(ks, e.Kind)
	}
	return ks
}

func (r *recorder) find(k EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == k {
			return e, true
		}
	}
	return Event{}, false
}

type fixture struct {
	orch *Orchestrator
	mem  *storage.Memory
	rec  *recorder
}

func newFixture(opts ...Option) *fixture {
	r := storage.NewResolver()
	mem := storage.NewMemory()
	r.Register("mem", mem)
	rec := &recorder{}
	return &fixture{orch: New(r, append([]Option{WithSink(rec)}, opts...)...), mem: mem, rec: rec}
}

func model(t *testing.T, w1Value float32) tensor.Collection {
	t.Helper()
	w1, err := tensor.Filled("w1", []int{4, 4}, w1Value)
	require.NoError(t, err)
	b1, err := tensor.Filled("b1", []int{4}, 0)
	require.NoError(t, err)
	return tensor.Collection{w1, b1}
}

func loadSkeleton(t *testing.T, o *Orchestrator, loc Location, opts LoadOptions, names ...string) *store.Skeleton {
	t.Helper()
	target, err := o.Load(context.Background(), loc, SkeletonFactory(names...), opts)
	require.NoError(t, err)
	return target.(*store.Skeleton)
}

func requireEqualTensor(t *testing.T, want, got *tensor.Tensor) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.DType, got.DType)
	assert.Equal(t, want.Shape, got.Shape)
	assert.True(t, bytes.Equal(want.Data, got.Data), "payload of %s differs", want.Name)
}

func TestSaveWithoutConfigLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	orch := New(storage.NewResolver())
	c := model(t, 1)

	require.NoError(t, orch.Save(ctx, c, nil, NewLocation(dir, "model"), false))

	_, err := os.Stat(filepath.Join(dir, "model.tensors"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "model-config.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	sk := loadSkeleton(t, orch, NewLocation(dir, "model"), LoadOptions{}, "w1", "b1")
	for _, want := range c {
		got, _ := sk.Tensor(want.Name)
		requireEqualTensor(t, want, got)
	}

	ok, err := orch.Exists(ctx, ParseLocation(filepath.Join(dir, "model")))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = orch.Exists(ctx, NewLocation(dir, "other"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://models/run", "")

	require.NoError(t, f.orch.Save(ctx, model(t, 1), Config{"hidden": 4}, loc, false))
	assert.Equal(t, 2, f.mem.Creates())
	first, _ := f.mem.Get(loc.TensorPath())

	require.NoError(t, f.orch.Save(ctx, model(t, 2), Config{"hidden": 8}, loc, false))
	assert.Equal(t, 2, f.mem.Creates(), "second save must not write")
	second, _ := f.mem.Get(loc.TensorPath())
	assert.Equal(t, first, second)

	sk := loadSkeleton(t, f.orch, loc, LoadOptions{}, "w1")
	got, _ := sk.Tensor("w1")
	requireEqualTensor(t, model(t, 1)[0], got)

	cfg, _ := f.mem.Get(loc.ConfigPath())
	assert.JSONEq(t, `{"hidden": 4}`, string(cfg))

	require.NoError(t, f.orch.Save(ctx, model(t, 2), Config{"hidden": 8}, loc, true))
	assert.Equal(t, 4, f.mem.Creates())
	sk = loadSkeleton(t, f.orch, loc, LoadOptions{}, "w1")
	got, _ = sk.Tensor("w1")
	requireEqualTensor(t, model(t, 2)[0], got)

	assert.Equal(t, []EventKind{
		ConfigWritten, TensorsWritten,
		ConfigSkipped, TensorsSkipped,
		LoadCompleted,
		ConfigWritten, TensorsWritten,
		LoadCompleted,
	}, f.rec.kinds())
}

func TestSavePartialResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "llm")
	original := []byte(`{"hidden":4,"kept":true}`)
	f.mem.Put(loc.ConfigPath(), original)

	require.NoError(t, f.orch.Save(ctx, model(t, 1), Config{"hidden": 99}, loc, false))

	cfg, _ := f.mem.Get(loc.ConfigPath())
	assert.Equal(t, original, cfg)
	_, ok := f.mem.Get(loc.TensorPath())
	assert.True(t, ok)
	assert.Equal(t, 1, f.mem.Creates())
}

func TestSaveConfigFromSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "")

	require.NoError(t, f.orch.Save(ctx, Model{Collection: model(t, 1), Cfg: Config{"layers": 2}}, nil, loc, false))
	cfg, ok := f.mem.Get(loc.ConfigPath())
	require.True(t, ok)
	assert.JSONEq(t, `{"layers": 2}`, string(cfg))

	var got Config
	_, err := f.orch.Load(ctx, loc, func(c Config) (store.Target, error) {
		got = c
		return store.NewSkeleton(), nil
	}, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, Config{"layers": float64(2)}, got)
}

func TestSaveNoConfigAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "")

	require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, true))
	_, ok := f.mem.Get(loc.ConfigPath())
	assert.False(t, ok)
	e, ok := f.rec.find(ConfigSkipped)
	require.True(t, ok)
	assert.Equal(t, "no config", e.Reason)

	called := false
	_, err := f.orch.Load(ctx, loc, func(c Config) (store.Target, error) {
		called = true
		assert.Nil(t, c)
		return store.NewSkeleton(), nil
	}, LoadOptions{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSaveDuplicateNamesPublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "")
	a, _ := tensor.Filled("w", []int{1}, 1)
	b, _ := tensor.Filled("w", []int{1}, 2)

	err := f.orch.Save(ctx, tensor.Collection{a, b}, nil, loc, false)
	var dup *store.DuplicateTensorNameError
	require.ErrorAs(t, err, &dup)
	_, ok := f.mem.Get(loc.TensorPath())
	assert.False(t, ok)
}

func TestSaveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture()
	loc := NewLocation("mem://m", "")

	err := f.orch.Save(ctx, model(t, 1), nil, loc, false)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := f.mem.Get(loc.TensorPath())
	assert.False(t, ok)
}

func TestLoadMissingTensorTolerance(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "")
	require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))

	sentinel, err := tensor.Filled("lm_head", []int{2}, 3)
	require.NoError(t, err)
	sk := store.NewSkeleton(store.Slot{Name: "w1"}, store.Slot{Name: "b1"})
	sk.Preset(sentinel)

	_, err = f.orch.Load(ctx, loc, func(Config) (store.Target, error) { return sk, nil }, LoadOptions{})
	require.NoError(t, err)
	got, _ := sk.Tensor("lm_head")
	assert.Same(t, sentinel, got)

	e, ok := f.rec.find(LoadCompleted)
	require.True(t, ok)
	assert.Equal(t, []string{"lm_head"}, e.Missing)
	assert.Positive(t, e.Bytes)
}

func TestLoadTruncatedArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	loc := NewLocation("mem://m", "")
	require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))

	data, _ := f.mem.Get(loc.TensorPath())
	for cut := 1; cut <= 3; cut++ {
		f.mem.Put(loc.TensorPath(), data[:len(data)-cut])
		_, err := f.orch.Load(ctx, loc, SkeletonFactory("w1", "b1"), LoadOptions{})
		assert.ErrorIs(t, err, format.ErrCorrupt)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	f := newFixture()
	_, err := f.orch.Load(context.Background(), NewLocation("mem://none", ""), SkeletonFactory(), LoadOptions{})
	assert.True(t, storage.IsNotFound(err))
}

func TestLoadCastAndEvents(t *testing.T) {
	ctx := context.Background()
	tick := time.Unix(0, 0)
	f := newFixture(WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	loc := NewLocation("mem://m", "")
	require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))

	sk := loadSkeleton(t, f.orch, loc, LoadOptions{DType: dtype.BF16, Eager: true}, "w1", "b1")
	got, _ := sk.Tensor("w1")
	assert.Equal(t, dtype.BF16, got.DType)

	var casts int
	for _, e := range f.rec.events {
		if e.Kind == DTypeCast {
			casts++
			assert.Equal(t, dtype.F32, e.Cast.Stored)
		}
	}
	assert.Equal(t, 2, casts)

	e, ok := f.rec.find(LoadCompleted)
	require.True(t, ok)
	assert.Equal(t, time.Second, e.Elapsed)
	assert.InDelta(t, float64(e.Bytes), e.Rate, 1e-9)
}

func TestLoadConfigLoader(t *testing.T) {
	ctx := context.Background()
	failing := ConfigLoader(func([]byte) (Config, error) { return nil, errors.New("schema mismatch") })
	structured := ConfigLoader(func(data []byte) (Config, error) { return Config{"structured": true}, nil })

	capture := func(dst *Config) Factory {
		return func(c Config) (store.Target, error) {
			*dst = c
			return store.NewSkeleton(), nil
		}
	}

	t.Run("structured", func(t *testing.T) {
		f := newFixture()
		loc := NewLocation("mem://m", "")
		require.NoError(t, f.orch.Save(ctx, model(t, 1), Config{"hidden": 4}, loc, false))
		var got Config
		_, err := f.orch.Load(ctx, loc, capture(&got), LoadOptions{ConfigLoader: structured})
		require.NoError(t, err)
		assert.Equal(t, Config{"structured": true}, got)
	})

	t.Run("fallback to raw JSON", func(t *testing.T) {
		f := newFixture()
		loc := NewLocation("mem://m", "")
		require.NoError(t, f.orch.Save(ctx, model(t, 1), Config{"hidden": 4}, loc, false))
		var got Config
		_, err := f.orch.Load(ctx, loc, capture(&got), LoadOptions{ConfigLoader: failing})
		require.NoError(t, err)
		assert.Equal(t, Config{"hidden": float64(4)}, got)
		_, ok := f.rec.find(ConfigFallback)
		assert.True(t, ok)
	})

	t.Run("both fail", func(t *testing.T) {
		f := newFixture()
		loc := NewLocation("mem://m", "")
		require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))
		f.mem.Put(loc.ConfigPath(), []byte("hidden: 4"))
		_, err := f.orch.Load(ctx, loc, SkeletonFactory(), LoadOptions{ConfigLoader: failing})
		require.Error(t, err)
		assert.ErrorContains(t, err, "schema mismatch")
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("missing config with loader", func(t *testing.T) {
		f := newFixture()
		loc := NewLocation("mem://m", "")
		require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))
		_, err := f.orch.Load(ctx, loc, SkeletonFactory(), LoadOptions{ConfigLoader: structured})
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("factory error", func(t *testing.T) {
		f := newFixture()
		loc := NewLocation("mem://m", "")
		require.NoError(t, f.orch.Save(ctx, model(t, 1), nil, loc, false))
		_, err := f.orch.Load(ctx, loc, func(Config) (store.Target, error) {
			return nil, errors.New("unsupported architecture")
		}, LoadOptions{})
		assert.ErrorContains(t, err, "unsupported architecture")
	})
}

func TestInspectAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WithCodec(format.CodecLZ4))
	loc := NewLocation("mem://m", "")
	require.NoError(t, f.orch.Save(ctx, model(t, 1), Config{"hidden": 4}, loc, false))

	m, err := f.orch.Inspect(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "lz4", m.Codec)
	assert.Equal(t, uint64(80), m.PayloadBytes)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "w1", m.Entries[0].Name)
	assert.Equal(t, Config{"hidden": float64(4)}, m.Config)

	require.NoError(t, f.orch.Verify(ctx, loc))

	data, _ := f.mem.Get(loc.TensorPath())
	data[m.Entries[1].Offset] ^= 0xff
	f.mem.Put(loc.TensorPath(), data)
	assert.ErrorIs(t, f.orch.Verify(ctx, loc), format.ErrCorrupt)
}

type stagingDevice struct{ names []string }

func (*stagingDevice) Name() string { return "staging" }

func (d *stagingDevice) Place(t *tensor.Tensor) (*tensor.Tensor, error) {
	d.names = append(d.names, t.Name)
	t.Device = "staging"
	return t, nil
}

func TestLoadOntoRegisteredDevice(t *testing.T) {
	dev := &stagingDevice{}
	tensor.RegisterDevice(dev)
	d, err := tensor.ParseDevice("staging")
	require.NoError(t, err)

	f := newFixture()
	loc := NewLocation("mem://dev", "")
	c := model(t, 2)
	require.NoError(t, f.orch.Save(context.Background(), c, nil, loc, false))

	sk := loadSkeleton(t, f.orch, loc, LoadOptions{Device: d}, "w1", "b1")
	assert.Equal(t, []string{"w1", "b1"}, dev.names)
	for _, name := range []string{"w1", "b1"} {
		got, ok := sk.Tensor(name)
		require.True(t, ok)
		assert.Equal(t, "staging", got.Device)
	}
}
