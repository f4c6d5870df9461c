package service

import "errors"

// Canonical error kinds. Every Service adapter
// translates its provider's transport and HTTP failures
// into exactly these; anything else propagates
// untranslated. The client's retry wrapper keys its
// behavior on errors.Is against them.
var (
	// ErrConnectionFailed marks a transient transport
	// failure. Retried with a bounded attempt count.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTooManyRequests marks provider rate limiting.
	// Retried after waiting for the reported reset.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrNotFound marks a failed single lookup. Never
	// retried; surfaced as "no result" to the caller.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedService marks a host with no
	// configured adapter. Fatal at configuration time.
	ErrUnsupportedService = errors.New(
		"unsupported service",
	)
)
