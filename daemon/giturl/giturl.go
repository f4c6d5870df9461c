package giturl

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalid is returned when a string cannot be
// recognized as a git remote URL.
var ErrInvalid = errors.New("invalid git URL")

// scpPattern matches scp-like remote spellings such as
// "git@github.com:owner/repo.git".
var scpPattern = regexp.MustCompile(
	`^(?:[\w.-]+@)?([\w.-]+):(.+)$`,
)

// URL is the normalized identity of a git remote.
// Two spellings of the same repository compare equal
// regardless of transport, case, a leading "www." or a
// trailing ".git". Immutable after construction.
type URL struct {
	raw  string
	host string
	path string
}

// Parse normalizes a remote URL string. Accepted forms
// are scp-like "user@host:path" and ssh/git/http(s)
// URIs. Anything else fails with ErrInvalid.
func Parse(raw string) (*URL, error) {
	const errCtx = "parsing git URL"

	if raw == "" {
		return nil, fmt.Errorf(
			"%s: empty string: %w", errCtx, ErrInvalid,
		)
	}

	if hasURIScheme(raw) {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %q: %w", errCtx, raw, ErrInvalid,
			)
		}

		if parsed.Host == "" {
			return nil, fmt.Errorf(
				"%s: %q has no host: %w",
				errCtx, raw, ErrInvalid,
			)
		}

		return &URL{
			raw:  raw,
			host: canonicalHost(parsed.Hostname()),
			path: canonicalPath(parsed.Path),
		}, nil
	}

	if m := scpPattern.FindStringSubmatch(raw); m != nil {
		return &URL{
			raw:  raw,
			host: canonicalHost(m[1]),
			path: canonicalPath(m[2]),
		}, nil
	}

	return nil, fmt.Errorf(
		"%s: %q: %w", errCtx, raw, ErrInvalid,
	)
}

// MustParse parses raw and panics on failure. Intended
// for fixed URLs in tests and configuration defaults.
func MustParse(raw string) *URL {
	parsed, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return parsed
}

// Host returns the canonical host: lowercased, with a
// leading "www." stripped.
func (u *URL) Host() string {
	return u.host
}

// Path returns the repository path without the leading
// slash and without a trailing ".git".
func (u *URL) Path() string {
	return u.path
}

// String returns the original spelling the URL was
// parsed from.
func (u *URL) String() string {
	return u.raw
}

// Same reports whether both URLs refer to the same
// repository. The comparison ignores transport, case,
// and the ".git" suffix.
func (u *URL) Same(other *URL) bool {
	if other == nil {
		return false
	}

	return u.host == other.host &&
		strings.EqualFold(u.path, other.path)
}

// Key returns a canonical map key for the repository:
// "host/path" with the path lowercased.
func (u *URL) Key() string {
	return u.host + "/" + strings.ToLower(u.path)
}

// hasURIScheme reports whether raw starts with one of
// the recognized git transport schemes.
func hasURIScheme(raw string) bool {
	for _, scheme := range []string{
		"ssh://", "git://", "http://", "https://",
	} {
		if len(raw) >= len(scheme) &&
			strings.EqualFold(
				raw[:len(scheme)], scheme,
			) {
			return true
		}
	}

	return false
}

// canonicalHost lowercases the host and strips a
// leading "www.".
func canonicalHost(host string) string {
	host = strings.ToLower(host)

	return strings.TrimPrefix(host, "www.")
}

// canonicalPath strips the leading slash and the
// trailing ".git" suffix.
func canonicalPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")

	return strings.TrimSuffix(path, ".git")
}
