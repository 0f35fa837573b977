// Package urlnorm canonicalizes URLs so equivalent inputs map to one cache
// identity.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidURL marks inputs that cannot be parsed as absolute http(s) URLs.
// Normalization failure must prevent any cache or fetch operation.
var ErrInvalidURL = errors.New("invalid url")

// Normalize validates raw as an absolute URL and returns its canonical
// string: lowercase scheme and host, default ports removed, path cleaned,
// query re-encoded in canonical (sorted) form, fragment dropped. The result
// is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, trimmed)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Host = canonicalHost(u.Scheme, u.Host)
	u.Path = canonicalPath(u.Path)
	u.RawPath = ""
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	u.ForceQuery = false

	return u.String(), nil
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// canonicalPath collapses duplicate slashes and dot segments while keeping
// a meaningful trailing slash, since many origins treat /a and /a/ as
// distinct resources.
func canonicalPath(p string) string {
	if p == "" || p == "/" {
		return p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
