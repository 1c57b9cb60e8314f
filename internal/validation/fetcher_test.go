package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_SendsRangeAndLimitsBody(t *testing.T) {
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), Timeout: time.Second, MaxBytes: 100}
	out := f.Fetch(context.Background(), StreamURL(srv.URL+"/live.m3u8"))

	require.Equal(t, FailureNone, out.Failure)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Len(t, out.Body, 100)
	assert.Equal(t, "bytes=0-99", gotRange.Load())
}

func TestFetcher_RangeNotSatisfiableFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		_, _ = w.Write([]byte(hlsBody))
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), Timeout: time.Second}
	out := f.Fetch(context.Background(), StreamURL(srv.URL))

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, hlsBody, string(out.Body))
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f := &Fetcher{Client: srv.Client(), Timeout: 50 * time.Millisecond}
	out := f.Fetch(context.Background(), StreamURL(srv.URL))

	assert.Equal(t, FailureTimeout, out.Failure)
	assert.Equal(t, NetworkUnreachable, Classify(out, VerdictNotHLS).Kind)
}

func TestFetcher_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	f := &Fetcher{Client: srv.Client(), Timeout: 5 * time.Second}
	out := f.Fetch(ctx, StreamURL(srv.URL))
	assert.Equal(t, FailureCanceled, out.Failure)
}

func TestFetcher_DNSFailure(t *testing.T) {
	f := &Fetcher{Client: &http.Client{Transport: dnsFailTransport()}, Timeout: time.Second}
	out := f.Fetch(context.Background(), "https://thisserverdoesnotexist12345.com/stream.m3u8")
	assert.Equal(t, FailureDNS, out.Failure)
	assert.Error(t, out.Err)
}

func TestFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := &Fetcher{Client: &http.Client{}, Timeout: time.Second}
	out := f.Fetch(context.Background(), StreamURL(addr))
	assert.Equal(t, FailureConnect, out.Failure)
}

func TestFetcher_UntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(hlsBody))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 0)
	out := f.Fetch(context.Background(), StreamURL(srv.URL))
	assert.Equal(t, FailureTLS, out.Failure)
	assert.Equal(t, MixedContent, Classify(out, VerdictNotHLS).Kind)
}

func TestFetcher_MixedContentBlockedWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), Timeout: time.Second}
	out := f.Fetch(context.Background(), StreamURL(srv.URL), WithSecureOrigin())

	assert.Equal(t, FailureMixedContent, out.Failure)
	assert.ErrorIs(t, out.Err, ErrMixedContent)
	assert.Zero(t, calls.Load())
}

func TestFailure_String(t *testing.T) {
	assert.Equal(t, "dns", FailureDNS.String())
	assert.Equal(t, "failure(99)", Failure(99).String())
}
