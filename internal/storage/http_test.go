package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRanged(t *testing.T) {
	content := []byte("abcdefghijklmnopqrstuvwxyz")
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	ctx := context.Background()
	obj, err := NewHTTP(5*time.Second).Open(ctx, srv.URL+"/blob")
	require.NoError(t, err)
	_, ranged := obj.(*httpObject)
	require.True(t, ranged)
	assert.Equal(t, int64(26), obj.Size())

	buf := make([]byte, 4)
	n, err := obj.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, "klmn", string(buf[:n]))
	assert.Equal(t, int32(1), gets.Load())
}

func TestHTTPSequentialFallback(t *testing.T) {
	content := []byte("streamed body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	obj, err := (&HTTP{}).Open(context.Background(), srv.URL)
	require.NoError(t, err)
	got, err := io.ReadAll(io.NewSectionReader(obj, 0, obj.Size()))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestHTTPProbeReadsOneByte(t *testing.T) {
	content := bytes.Repeat([]byte{7}, 8<<20)
	var sent atomic.Int64
	var ranges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Accept-Ranges advertised, but Range is honored.
		if rg := r.Header.Get("Range"); rg == "bytes=0-0" {
			ranges.Add(1)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			n, _ := w.Write(content[:1])
			sent.Add(int64(n))
			return
		}
		n, _ := w.Write(content)
		sent.Add(int64(n))
	}))
	r := NewResolver()
	r.Register("http", &HTTP{})
	ok, err := r.Probe(context.Background(), srv.URL+"/model.tensors")
	srv.Close()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), ranges.Load())
	assert.LessOrEqual(t, sent.Load(), int64(1))
}

func TestHTTPProbeRangeIgnored(t *testing.T) {
	const total = 64 << 20
	chunk := make([]byte, 32<<10)
	var sent atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(total))
		for sent.Load() < total {
			n, err := w.Write(chunk)
			sent.Add(int64(n))
			if err != nil {
				return
			}
		}
	}))
	r := NewResolver()
	r.Register("http", &HTTP{})
	ok, err := r.Probe(context.Background(), srv.URL+"/model.tensors")
	srv.Close()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, sent.Load(), int64(total), "body must not be drained")
}

func TestHTTPProbeEmpty(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"range not satisfiable": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		},
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			ok, err := (&HTTP{}).Probe(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHTTPProbeDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	_, err := (&HTTP{}).Probe(context.Background(), srv.URL)
	assert.True(t, IsPermission(err))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status     int
		notFound   bool
		permission bool
		transient  bool
	}{
		{http.StatusNotFound, true, false, false},
		{http.StatusForbidden, false, true, false},
		{http.StatusServiceUnavailable, false, false, true},
		{http.StatusTooManyRequests, false, false, true},
		{http.StatusBadRequest, false, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			_, err := (&HTTP{}).Open(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.permission, IsPermission(err))
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestHTTPProbeMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := NewResolver()
	r.Register("http", &HTTP{})
	ok, err := r.Probe(context.Background(), srv.URL+"/model.tensors")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPCreateIsDenied(t *testing.T) {
	_, err := (&HTTP{}).Create(context.Background(), "http://example.invalid/x")
	assert.True(t, IsPermission(err))
}
