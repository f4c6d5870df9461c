// Package overrides turns the dependency task lists declared in pull
// request descriptions into override manifests.
//
// A pull request may declare that it depends on other pull requests by
// listing them under a "Depends on:" marker. ParseTaskList extracts the
// unchecked references, Retriever resolves them recursively into the
// transitive closure, and Manifest is the ordered set of per-package
// fetch instructions derived from that closure.
package overrides
