package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Local is the local filesystem backend. Writes go to a temporary sibling
// file that is renamed over the target on Close.
type Local struct{}

type localObject struct {
	*os.File
	size int64
}

func (o *localObject) Size() int64 { return o.size }

// Open opens path for reading.
func (Local) Open(_ context.Context, path string) (Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classify("open", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, classify("stat", path, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, &IOError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}
	return &localObject{File: f, size: st.Size()}, nil
}

// Create opens path for writing, creating parent directories as needed.
func (Local) Create(_ context.Context, path string) (Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, classify("mkdir", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, classify("create", path, err)
	}
	return &localWriter{f: f, tmp: tmp, path: path}, nil
}

type localWriter struct {
	f    *os.File
	tmp  string
	path string
	done bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, classify("write", w.path, err)
	}
	return n, nil
}

func (w *localWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return classify("sync", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return classify("close", w.path, err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return classify("rename", w.path, err)
	}
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	if err := os.Remove(w.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classify("remove", w.tmp, err)
	}
	return nil
}

var _ Backend = Local{}
