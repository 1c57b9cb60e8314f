package validation

import (
	"bufio"
	"bytes"
	"strings"
)

// SignatureTag is the mandatory first line of an HLS playlist.
const SignatureTag = "#EXTM3U"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Verdict is the outcome of the static manifest check.
type Verdict int

const (
	VerdictNotHLS Verdict = iota
	VerdictOK
)

func (v Verdict) String() string {
	if v == VerdictOK {
		return "ok"
	}
	return "not_hls"
}

// ManifestInfo lists features seen in the fetched part of a playlist.
// It is informational only and never changes the Verdict.
type ManifestInfo struct {
	Master      bool     `json:"master,omitempty"`
	KeyMethods  []string `json:"key_methods,omitempty"`
	KeyFormats  []string `json:"key_formats,omitempty"`
	SessionKeys bool     `json:"session_keys,omitempty"`
}

// Encrypted reports whether any key tag names a method other than NONE.
func (m ManifestInfo) Encrypted() bool {
	for _, method := range m.KeyMethods {
		if method != "NONE" {
			return true
		}
	}
	return false
}

// DRM reports whether a KEYFORMAT other than the plain "identity" format
// was declared, which implies a license server.
func (m ManifestInfo) DRM() bool {
	for _, f := range m.KeyFormats {
		if f != "identity" {
			return true
		}
	}
	return false
}

// ValidateManifest checks body for the HLS signature. Only the first
// non-empty line decides the verdict.
func ValidateManifest(body []byte) (Verdict, ManifestInfo) {
	body = bytes.TrimPrefix(body, utf8BOM)

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 4096), len(body)+1)

	verdict := VerdictNotHLS
	var info ManifestInfo
	seenFirst := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !seenFirst {
			seenFirst = true
			if line != SignatureTag {
				return VerdictNotHLS, ManifestInfo{}
			}
			verdict = VerdictOK
			continue
		}
		info.observe(line)
	}
	return verdict, info
}

func (m *ManifestInfo) observe(line string) {
	switch {
	case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
		m.Master = true
	case strings.HasPrefix(line, "#EXT-X-SESSION-KEY:"):
		m.SessionKeys = true
		m.addKey(strings.TrimPrefix(line, "#EXT-X-SESSION-KEY:"))
	case strings.HasPrefix(line, "#EXT-X-KEY:"):
		m.addKey(strings.TrimPrefix(line, "#EXT-X-KEY:"))
	}
}

func (m *ManifestInfo) addKey(attrs string) {
	a := parseAttributes(attrs)
	if method := a["METHOD"]; method != "" {
		m.KeyMethods = appendUnique(m.KeyMethods, method)
	}
	if format := a["KEYFORMAT"]; format != "" {
		m.KeyFormats = appendUnique(m.KeyFormats, format)
	}
}

// parseAttributes splits an HLS attribute list (KEY=VALUE,KEY="VALUE") and
// unquotes values. Commas inside quotes are kept.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	var parts []string
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])

	for _, p := range parts {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		out[strings.ToUpper(k)] = strings.Trim(v, `"`)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
