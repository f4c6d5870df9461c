// Package github adapts the GitHub REST API (v3) to the daemon's
// service abstraction using google/go-github.
//
// The adapter owns the GitHub dependency-reference grammar
// ("owner/repo#N", "#N", absolute pull request URLs), the merge-ref
// versus head-ref selection policy, and the bounded polling used to
// resolve unknown mergeability. All transport and HTTP failures are
// translated into the canonical error kinds in the service package.
package github
