package validation

import (
	"context"
	"log/slog"
)

// CheckOption adjusts a single check.
type CheckOption func(*checkOptions)

type checkOptions struct {
	secureOrigin bool
}

// WithSecureOrigin marks the check as made on behalf of a page served over
// https, so plain http targets are blocked as mixed content.
func WithSecureOrigin() CheckOption {
	return func(o *checkOptions) { o.secureOrigin = true }
}

// WithOrigin is WithSecureOrigin when secure is true and a no-op otherwise.
func WithOrigin(secure bool) CheckOption {
	return func(o *checkOptions) { o.secureOrigin = o.secureOrigin || secure }
}

func collectOptions(opts []CheckOption) checkOptions {
	var o checkOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Recorder observes finished checks. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveValidation(kind string)
}

// Checker runs the full pre-flight pipeline: parse, fetch, validate, classify.
type Checker struct {
	fetcher  *Fetcher
	log      *slog.Logger
	recorder Recorder
}

// NewChecker returns a Checker. log and rec may be nil.
func NewChecker(f *Fetcher, log *slog.Logger, rec Recorder) *Checker {
	if f == nil {
		f = NewFetcher(0, 0)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Checker{fetcher: f, log: log, recorder: rec}
}

// Check validates raw. Malformed input never reaches the network.
func (c *Checker) Check(ctx context.Context, raw string, opts ...CheckOption) Result {
	u, err := ParseStreamURL(raw)
	if err != nil {
		return c.finish(raw, Classify(Outcome{Failure: FailureMalformedURL, Err: err}, VerdictNotHLS), nil)
	}

	out := c.fetcher.Fetch(ctx, u, opts...)
	verdict, info := VerdictNotHLS, ManifestInfo{}
	if out.Failure == FailureNone {
		verdict, info = ValidateManifest(out.Body)
	}

	res := Classify(out, verdict)
	if res.OK() {
		res.Manifest = info
	}
	return c.finish(string(u), res, out.Err)
}

func (c *Checker) finish(target string, res Result, cause error) Result {
	attrs := []any{
		slog.String("url", target),
		slog.String("kind", res.Kind.String()),
	}
	if res.Status != 0 {
		attrs = append(attrs, slog.Int("status", res.Status))
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	if res.OK() && (res.Manifest.Encrypted() || res.Manifest.DRM()) {
		attrs = append(attrs,
			slog.Any("key_methods", res.Manifest.KeyMethods),
			slog.Any("key_formats", res.Manifest.KeyFormats))
		c.log.Info("stream valid but protected, playback may still fail", attrs...)
	} else {
		c.log.Debug("stream checked", attrs...)
	}

	if c.recorder != nil {
		c.recorder.ObserveValidation(res.Kind.String())
	}
	return res
}
