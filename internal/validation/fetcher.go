package validation

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single manifest fetch.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxBytes is how much of the manifest is read. Playlists are small
	// and only the header matters here.
	DefaultMaxBytes int64 = 64 << 10

	maxRedirects = 5
)

// Failure tags a transport-level outcome of a fetch.
type Failure int

const (
	FailureNone Failure = iota
	FailureMalformedURL
	FailureDNS
	FailureConnect
	FailureTimeout
	FailureTLS
	FailureMixedContent
	FailureCanceled
	FailureOther
)

var failureNames = map[Failure]string{
	FailureNone:         "none",
	FailureMalformedURL: "malformed_url",
	FailureDNS:          "dns",
	FailureConnect:      "connect",
	FailureTimeout:      "timeout",
	FailureTLS:          "tls",
	FailureMixedContent: "mixed_content",
	FailureCanceled:     "canceled",
	FailureOther:        "other",
}

func (f Failure) String() string {
	if s, ok := failureNames[f]; ok {
		return s
	}
	return fmt.Sprintf("failure(%d)", int(f))
}

// ErrMixedContent is the cause recorded when an http target is requested on
// behalf of a page served over https.
var ErrMixedContent = errors.New("insecure http request blocked from secure origin")

// Outcome is the raw result of a fetch. Status and Body are only meaningful
// when Failure is FailureNone.
type Outcome struct {
	Status  int
	Body    []byte
	Failure Failure
	Err     error
}

// Fetcher reads the head of a candidate manifest.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

// NewFetcher returns a Fetcher with its own pooled client. Zero timeout or
// maxBytes select the defaults.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		Client:   newHTTPClient(),
		Timeout:  timeout,
		MaxBytes: maxBytes,
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Fetch GETs the first MaxBytes of u. It never returns FailureMalformedURL;
// callers must reject bad input before calling it.
func (f *Fetcher) Fetch(ctx context.Context, u StreamURL, opts ...CheckOption) Outcome {
	o := collectOptions(opts)
	if o.secureOrigin && u.Insecure() {
		return Outcome{Failure: FailureMixedContent, Err: ErrMixedContent}
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := f.client(o.secureOrigin)
	out := f.get(ctx, client, u, true)
	if out.Failure == FailureNone && out.Status == http.StatusRequestedRangeNotSatisfiable {
		out = f.get(ctx, client, u, false)
	}
	return out
}

// client returns the client for one fetch. For a secure origin every
// redirect hop is held to the same rule as the first URL.
func (f *Fetcher) client(secureOrigin bool) *http.Client {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	if !secureOrigin {
		return client
	}

	c := *client
	next := client.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if StreamURL(req.URL.String()).Insecure() {
			return ErrMixedContent
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &c
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, u StreamURL, ranged bool) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(u), nil)
	if err != nil {
		return Outcome{Failure: FailureOther, Err: err}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", limit-1))
	}
	req.Header.Set("Accept", "application/vnd.apple.mpegurl, application/x-mpegurl, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return Outcome{Failure: transportFailure(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Outcome{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil && len(body) == 0 {
		return Outcome{Failure: transportFailure(ctx, err), Err: err}
	}
	return Outcome{Status: resp.StatusCode, Body: body}
}

// transportFailure sorts a client error into a Failure tag.
func transportFailure(ctx context.Context, err error) Failure {
	if errors.Is(err, ErrMixedContent) {
		return FailureMixedContent
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureTimeout
		}
		return FailureDNS
	}

	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return FailureTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnect
	}
	return FailureOther
}
