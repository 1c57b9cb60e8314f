package validation

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// routeTransport serves every request in-process through handler, whatever
// the host, so literal public URLs can be used in tests.
type routeTransport struct {
	handler http.Handler
	calls   atomic.Int64
}

func (rt *routeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.calls.Add(1)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.handler.ServeHTTP(rec, req)
	}()
	select {
	case <-done:
	case <-req.Context().Done():
		<-done
		return nil, req.Context().Err()
	}
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// dnsFailTransport fails every dial the way an unresolvable host does.
func dnsFailTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(addr)
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		},
	}
}

const hlsBody = "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg0.ts\n"

// publicStreams mimics the hosts used in the literal scenarios.
func publicStreams() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/not-hls.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("\x00\x00\x00\x18ftypmp42"))
	})
	mux.HandleFunc("/x36xhzz/x36xhzz.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(hlsBody))
	})
	mux.HandleFunc("/encrypted.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"skd://key\",KEYFORMAT=\"com.apple.streamingkeydelivery\"\n#EXTINF:6,\nseg.ts\n"))
	})
	mux.HandleFunc("/slow.m3u8", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		var code int
		for _, c := range r.URL.Path[len("/status/"):] {
			code = code*10 + int(c-'0')
		}
		w.WriteHeader(code)
	})
	return mux
}

func newRoutedChecker(t *testing.T, h http.Handler) (*Checker, *routeTransport) {
	t.Helper()
	rt := &routeTransport{handler: h}
	f := &Fetcher{Client: &http.Client{Transport: rt}, Timeout: 2 * time.Second}
	return NewChecker(f, nil, nil), rt
}
