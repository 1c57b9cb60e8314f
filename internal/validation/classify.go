package validation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of user-facing validation failures.
// The zero value None marks a successful check.
type ErrorKind int

const (
	None ErrorKind = iota
	MalformedURL
	NetworkUnreachable
	HTTPError
	NotHLSManifest
	MixedContent
	Unknown
)

// Messages shared by the pre-flight checks and playback.
const (
	MsgNetworkError = "Cannot access URL: Network error"
	MsgNotHLS       = "Not a valid HLS stream (missing #EXTM3U header)"
	MsgMixedContent = "Cannot load an insecure (http) stream from a secure (https) page"
	MsgTLSRejected  = "Cannot access URL: secure connection rejected"
	MsgUnknown      = "Unknown error while checking stream"
)

var kindNames = map[ErrorKind]string{
	None:               "None",
	MalformedURL:       "MalformedUrl",
	NetworkUnreachable: "NetworkUnreachable",
	HTTPError:          "HttpError",
	NotHLSManifest:     "NotHlsManifest",
	MixedContent:       "MixedContent",
	Unknown:            "Unknown",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", string(b))
}

// Result is the classified outcome of one check. Status is set for HTTPError.
type Result struct {
	Kind     ErrorKind    `json:"kind"`
	Status   int          `json:"status,omitempty"`
	Message  string       `json:"message,omitempty"`
	Manifest ManifestInfo `json:"manifest"`
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Kind == None }

// HTTPStatusResult builds the HttpError result for status.
func HTTPStatusResult(status int) Result {
	msg := fmt.Sprintf("Server returned %d", status)
	if text := http.StatusText(status); text != "" {
		msg += " " + text
	}
	return Result{Kind: HTTPError, Status: status, Message: msg}
}

// NetworkResult builds the NetworkUnreachable result.
func NetworkResult() Result {
	return Result{Kind: NetworkUnreachable, Message: MsgNetworkError}
}

// UnknownResult builds the Unknown result, keeping detail for diagnostics.
func UnknownResult(detail string) Result {
	if detail == "" {
		return Result{Kind: Unknown, Message: MsgUnknown}
	}
	return Result{Kind: Unknown, Message: MsgUnknown + ": " + detail}
}

// MalformedResult builds the MalformedUrl result for err.
func MalformedResult(err error) Result {
	var uerr *URLError
	if errors.As(err, &uerr) {
		return Result{Kind: MalformedURL, Message: uerr.Error()}
	}
	return Result{Kind: MalformedURL, Message: "Invalid URL"}
}

// Classify maps a fetch outcome and manifest verdict to exactly one result.
// Rules are applied in order; the first match wins.
func Classify(out Outcome, verdict Verdict) Result {
	switch out.Failure {
	case FailureMalformedURL:
		return MalformedResult(out.Err)
	case FailureDNS, FailureConnect, FailureTimeout:
		return NetworkResult()
	case FailureMixedContent:
		return Result{Kind: MixedContent, Message: MsgMixedContent}
	case FailureTLS:
		return Result{Kind: MixedContent, Message: MsgTLSRejected}
	case FailureNone:
	default:
		if out.Err != nil {
			return UnknownResult(out.Err.Error())
		}
		return UnknownResult(out.Failure.String())
	}

	if out.Status == 0 {
		return UnknownResult("no response status")
	}
	if out.Status < 200 || out.Status > 299 {
		return HTTPStatusResult(out.Status)
	}
	if verdict != VerdictOK {
		return Result{Kind: NotHLSManifest, Message: MsgNotHLS}
	}
	return Result{Kind: None}
}
