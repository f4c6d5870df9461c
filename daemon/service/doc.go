// Package service defines the provider abstraction the daemon talks
// through: the Service strategy interface, the normalized PullRequest
// and Branch facades, the canonical error taxonomy, and the rate-limit
// and commit-strategy types shared by all adapters.
//
// Concrete adapters live in the github and gitlab sub-packages. Each
// one owns its provider's reference grammar, mergeability semantics,
// and exception translation; nothing provider-specific leaks past this
// package's types.
package service
