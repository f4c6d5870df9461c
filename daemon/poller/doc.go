// Package poller implements the reconciliation engine:
// the polling loop that keeps the buildconf
// repository's synchronized branch set in agreement
// with the open pull requests of the tracked packages,
// and watches their mainline branches for moves that
// require a workspace update.
package poller
