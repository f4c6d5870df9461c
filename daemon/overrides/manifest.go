package overrides

import "fmt"

// Entry is one override instruction: build the given
// package from the given remote ref instead of its
// default branch.
type Entry struct {
	// Package is the package key in the package-set
	// configuration.
	Package string

	// RemoteBranch is the upstream ref to fetch.
	RemoteBranch string
}

// Manifest is an ordered sequence of override entries.
// Order matters only for output stability; package keys
// may repeat across entries.
type Manifest []Entry

// MarshalYAML renders the entry as a single-key map,
// matching the override file format consumed by the
// build configuration:
//
//	- drivers/iodrivers_base:
//	    remote_branch: refs/pull/12/merge
func (e Entry) MarshalYAML() (any, error) {
	return map[string]map[string]string{
		e.Package: {
			"remote_branch": e.RemoteBranch,
		},
	}, nil
}

// UnmarshalYAML parses the single-key map form written
// by MarshalYAML.
func (e *Entry) UnmarshalYAML(
	unmarshal func(any) error,
) error {
	const errCtx = "unmarshaling override entry"

	var raw map[string]map[string]string

	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if len(raw) != 1 {
		return fmt.Errorf(
			"%s: expected a single-key map, got %d keys",
			errCtx, len(raw),
		)
	}

	for pkg, options := range raw {
		e.Package = pkg
		e.RemoteBranch = options["remote_branch"]
	}

	return nil
}

// Equal reports whether both manifests contain the
// same entries in the same order.
func (m Manifest) Equal(other Manifest) bool {
	if len(m) != len(other) {
		return false
	}

	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}

	return true
}
