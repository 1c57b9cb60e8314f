package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"hls-viewer/internal/registry"
	"hls-viewer/internal/validation"
)

const (
	goodURL   = "https://test-streams.mux.dev/x36xhzz/x36xhzz.m3u8"
	notHLSURL = "https://example.com/not-hls.mp4"
	goneURL   = "https://example.com/gone.m3u8"
)

// fakeChecker answers from a fixed table. Unlisted well-formed URLs pass.
// When gate is set, checks block until it is closed.
type fakeChecker struct {
	mu      sync.Mutex
	results map[string]validation.Result
	gate    chan struct{}
	calls   []string
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{results: map[string]validation.Result{
		notHLSURL: {Kind: validation.NotHLSManifest, Message: validation.MsgNotHLS},
		goneURL:   validation.HTTPStatusResult(http.StatusNotFound),
	}}
}

func (f *fakeChecker) Check(ctx context.Context, raw string, _ ...validation.CheckOption) validation.Result {
	f.mu.Lock()
	f.calls = append(f.calls, raw)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return validation.UnknownResult("canceled")
		}
	}

	raw = strings.TrimSpace(raw)
	if _, err := validation.ParseStreamURL(raw); err != nil {
		return validation.MalformedResult(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.results[raw]; ok {
		return res
	}
	return validation.Result{Kind: validation.None}
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestService(t *testing.T, c Checker, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithDebounce(0)}, opts...)
	svc := NewService(registry.NewMemoryRepository(), c, nil, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func newTestHandler(t *testing.T, c Checker) *Handler {
	t.Helper()
	return NewHandler(newTestService(t, c), nil, WithForwardedProto(true))
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// do sends body as JSON and returns the recorded response.
func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
