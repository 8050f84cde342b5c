package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP is a read-only backend for http:// and https:// locations. Servers
// advertising "Accept-Ranges: bytes" are read with Range requests; anything
// else is downloaded once into memory.
type HTTP struct {
	Client *http.Client
}

// NewHTTP returns an HTTP backend whose requests time out after timeout.
// A zero timeout disables the limit.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{Client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

func (h *HTTP) Open(ctx context.Context, url string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, &IOError{Op: "open", Path: url, Err: err}
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, classify("head", url, err)
	}
	resp.Body.Close()
	if err := statusError("head", url, resp); err != nil && resp.StatusCode != http.StatusMethodNotAllowed {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK && resp.Header.Get("Accept-Ranges") == "bytes" && resp.ContentLength >= 0 {
		return &httpObject{ctx: ctx, h: h, url: url, size: resp.ContentLength}, nil
	}
	return h.download(ctx, url)
}

// download reads the whole body sequentially.
func (h *HTTP) download(ctx context.Context, url string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &IOError{Op: "get", Path: url, Err: err}
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, classify("get", url, err)
	}
	defer resp.Body.Close()
	if err := statusError("get", url, resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("get", url, err)
	}
	return &bytesObject{Reader: bytes.NewReader(data)}, nil
}

// Probe asks for the first byte only and reads at most one byte of the
// response, so servers that ignore Range are never fully downloaded.
func (h *HTTP) Probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &IOError{Op: "probe", Path: url, Err: err}
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := h.client().Do(req)
	if err != nil {
		return false, classify("probe", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// Empty resource.
		return false, nil
	}
	if err := statusError("probe", url, resp); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	var b [1]byte
	n, err := io.ReadFull(io.LimitReader(resp.Body, 1), b[:])
	if n == 1 {
		return true, nil
	}
	if err == io.EOF {
		return false, nil
	}
	return false, classify("probe", url, err)
}

func (h *HTTP) Create(_ context.Context, url string) (Writer, error) {
	return nil, denied("create", url, errors.New("http backend is read-only"))
}

type httpObject struct {
	ctx  context.Context
	h    *HTTP
	url  string
	size int64
}

func (o *httpObject) Size() int64  { return o.size }
func (o *httpObject) Close() error { return nil }

func (o *httpObject) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := int64(len(p))
	if off+want > o.size {
		want = o.size - off
	}
	req, err := http.NewRequestWithContext(o.ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return 0, &IOError{Op: "get", Path: o.url, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+want-1))
	resp, err := o.h.client().Do(req)
	if err != nil {
		return 0, classify("get", o.url, err)
	}
	defer resp.Body.Close()
	if err := statusError("get", o.url, resp); err != nil {
		return 0, err
	}
	body := io.Reader(resp.Body)
	if resp.StatusCode == http.StatusOK {
		// Range ignored: skip to the requested offset.
		if _, err := io.CopyN(io.Discard, body, off); err != nil {
			return 0, classify("get", o.url, err)
		}
	}
	n, err := io.ReadFull(body, p[:want])
	if err != nil {
		return n, classify("get", o.url, err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func statusError(op, url string, resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	cause := fmt.Errorf("http error: %s", resp.Status)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return notFound(op, url, cause)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return denied(op, url, cause)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &IOError{Op: op, Path: url, Transient: true, Err: cause}
	}
	return &IOError{Op: op, Path: url, Err: cause}
}

var (
	_ Backend = (*HTTP)(nil)
	_ Prober  = (*HTTP)(nil)
)
