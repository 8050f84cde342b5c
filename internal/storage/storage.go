// Package storage opens byte streams for artifact locations. A location is
// either a local path or a URI whose scheme selects a Backend (s3://,
// http://, https://, mem://). Config sidecars and tensor artifacts go
// through the same adapter.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Object is an opened artifact supporting random access. Backends without
// ranged reads fall back to buffering the stream sequentially.
type Object interface {
	io.ReaderAt
	// Size returns the total length in bytes.
	Size() int64
	Close() error
}

// Writer receives an artifact in one sequential pass. Close publishes it;
// Abort discards everything written so far, so a failed pass never leaves a
// readable partial artifact behind.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Backend is a storage system addressed by paths or URIs.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Open opens the artifact for reading. A missing artifact yields an
	// error matching ErrNotFound.
	Open(ctx context.Context, path string) (Object, error)

	// Create opens the artifact for writing, creating intermediate
	// directories or buckets as needed and replacing any existing content
	// when the returned Writer is closed.
	Create(ctx context.Context, path string) (Writer, error)
}

// Prober is implemented by backends that can check for a readable first
// byte more cheaply than Open. Resolver.Probe prefers it.
type Prober interface {
	Probe(ctx context.Context, path string) (bool, error)
}

// Resolver dispatches locations to backends by URI scheme. Locations
// without a scheme, and file:// URIs, go to the local filesystem.
type Resolver struct {
	backends map[string]Backend
	local    Backend
}

// NewResolver returns a resolver with the local filesystem registered.
func NewResolver() *Resolver {
	return &Resolver{
		backends: make(map[string]Backend),
		local:    Local{},
	}
}

// Register binds scheme (for example "s3") to b. Non-local backends receive
// the full URI as path.
func (r *Resolver) Register(scheme string, b Backend) {
	r.backends[strings.ToLower(scheme)] = b
}

func (r *Resolver) resolve(uri string) (Backend, string, error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return r.local, uri, nil
	}
	scheme := strings.ToLower(uri[:i])
	if scheme == "file" {
		return r.local, uri[i+3:], nil
	}
	b, ok := r.backends[scheme]
	if !ok {
		return nil, "", fmt.Errorf("storage: no backend registered for scheme %q", scheme)
	}
	return b, uri, nil
}

// Open opens uri for reading.
func (r *Resolver) Open(ctx context.Context, uri string) (Object, error) {
	b, path, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, path)
}

// Create opens uri for writing.
func (r *Resolver) Create(ctx context.Context, uri string) (Writer, error) {
	b, path, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, path)
}

// Probe reports whether uri holds at least one readable byte. It never
// downloads more than that byte. A missing or empty artifact is reported
// as absent without error.
func (r *Resolver) Probe(ctx context.Context, uri string) (bool, error) {
	b, path, err := r.resolve(uri)
	if err != nil {
		return false, err
	}
	if p, ok := b.(Prober); ok {
		return p.Probe(ctx, path)
	}
	obj, err := b.Open(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	defer obj.Close()
	if obj.Size() == 0 {
		return false, nil
	}
	var buf [1]byte
	n, err := obj.ReadAt(buf[:], 0)
	if n == 1 {
		return true, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, err
}

// ReadAll reads a whole artifact. It is meant for small sidecars.
func (r *Resolver) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	obj, err := r.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(io.NewSectionReader(obj, 0, obj.Size()))
}

// WriteAll creates uri holding data.
func (r *Resolver) WriteAll(ctx context.Context, uri string, data []byte) error {
	w, err := r.Create(ctx, uri)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
