package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory keeps artifacts in process memory under mem:// URIs. It backs
// tests and dry runs of the CLI.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	creates int
	opens   int
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func memKey(path string) string {
	return strings.TrimPrefix(path, "mem://")
}

func (m *Memory) Open(_ context.Context, path string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	data, ok := m.objects[memKey(path)]
	if !ok {
		return nil, notFound("open", path, errors.New("no such object"))
	}
	return &bytesObject{Reader: bytes.NewReader(data)}, nil
}

func (m *Memory) Create(_ context.Context, path string) (Writer, error) {
	m.mu.Lock()
	m.creates++
	m.mu.Unlock()
	return &memWriter{m: m, key: memKey(path)}, nil
}

// Put stores data under path directly.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(path)] = bytes.Clone(data)
}

// Get returns a copy of the object stored under path.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[memKey(path)]
	return bytes.Clone(data), ok
}

// Creates reports how many writers have been opened.
func (m *Memory) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Opens reports how many read opens have been attempted.
func (m *Memory) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type memWriter struct {
	m    *Memory
	key  string
	buf  bytes.Buffer
	done bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, &IOError{Op: "write", Path: "mem://" + w.key, Err: errors.New("writer closed")}
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.m.mu.Lock()
	w.m.objects[w.key] = w.buf.Bytes()
	w.m.mu.Unlock()
	return nil
}

func (w *memWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

// bytesObject serves a fully buffered artifact.
type bytesObject struct {
	*bytes.Reader
}

func (o *bytesObject) Close() error { return nil }

var _ Backend = (*Memory)(nil)
