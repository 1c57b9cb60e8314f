package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// StreamURL is an absolute http or https URL that passed ParseStreamURL.
type StreamURL string

// String implements fmt.Stringer.
func (u StreamURL) String() string { return string(u) }

// Insecure reports whether the URL uses plain http.
func (u StreamURL) Insecure() bool {
	return strings.HasPrefix(strings.ToLower(string(u)), "http:")
}

// URLProblem names which part of a candidate URL is wrong.
type URLProblem string

const (
	URLEmpty             URLProblem = "empty"
	URLUnparseable       URLProblem = "unparseable"
	URLMissingScheme     URLProblem = "missing scheme"
	URLUnsupportedScheme URLProblem = "unsupported scheme"
	URLMissingHost       URLProblem = "missing host"
)

// URLError is returned by ParseStreamURL when the input is not a usable
// stream URL. No network call is ever made for such input.
type URLError struct {
	Input   string
	Problem URLProblem
	Scheme  string
	Cause   error
}

func (e *URLError) Error() string {
	switch e.Problem {
	case URLEmpty:
		return "Invalid URL: empty"
	case URLUnsupportedScheme:
		return fmt.Sprintf("Invalid URL: unsupported scheme %q (expected http or https)", e.Scheme)
	case URLUnparseable:
		return "Invalid URL: cannot be parsed"
	default:
		return "Invalid URL: " + string(e.Problem)
	}
}

func (e *URLError) Unwrap() error { return e.Cause }

// ParseStreamURL trims raw and checks it is an absolute http(s) URL with a host.
func ParseStreamURL(raw string) (StreamURL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &URLError{Input: raw, Problem: URLEmpty}
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", &URLError{Input: raw, Problem: URLUnparseable, Cause: err}
	}
	if u.Scheme == "" {
		return "", &URLError{Input: raw, Problem: URLMissingScheme}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &URLError{Input: raw, Problem: URLUnsupportedScheme, Scheme: u.Scheme}
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", &URLError{Input: raw, Problem: URLMissingHost}
	}

	return StreamURL(s), nil
}
