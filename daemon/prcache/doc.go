// Package prcache persists the last-synchronized state of every
// tracked pull request, so a polling cycle can tell which
// synchronized branches actually need a recompute-and-repush and
// which are already current.
//
// The cache file is a flat YAML list, read once at cycle start and
// rewritten whole at cycle end under a single-writer assumption.
package prcache
