package service

import (
	"context"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
)

// Pattern: Strategy -- one Service variant per git
// hosting platform, so provider differences (reference
// grammars, mergeability semantics, error shapes) stay
// inside each adapter.

// CommitStrategy selects which upstream ref of a pull
// request is the authoritative commit to build.
type CommitStrategy string

// Known commit strategies. The default uses the merge
// ref unless the PR is a draft or not known to be
// mergeable, in which case it falls back to the head
// ref.
const (
	CommitStrategyDefault CommitStrategy = ""
	CommitStrategyMerge   CommitStrategy = "merge"
	CommitStrategyHead    CommitStrategy = "head"
)

// Service is a provider-specific adapter for one git
// hosting platform. Implementations translate their
// provider's transport and HTTP failures into the
// canonical kinds in errors.go.
type Service interface {
	// Host returns the hostname this adapter serves
	// (e.g. "github.com").
	Host() string

	// PullRequests lists the open pull requests of
	// repo that target baseBranch.
	PullRequests(
		ctx context.Context,
		repo *giturl.URL,
		baseBranch string,
	) ([]*PullRequest, error)

	// PullRequest fetches a single pull request.
	// Returns ErrNotFound when the number does not
	// resolve.
	PullRequest(
		ctx context.Context,
		repo *giturl.URL,
		number int,
	) (*PullRequest, error)

	// Branches lists the branches of repo.
	Branches(
		ctx context.Context,
		repo *giturl.URL,
	) ([]*Branch, error)

	// Branch fetches a single branch. Returns
	// ErrNotFound when the branch does not exist.
	Branch(
		ctx context.Context,
		repo *giturl.URL,
		name string,
	) (*Branch, error)

	// DeleteBranch removes a branch from repo.
	DeleteBranch(
		ctx context.Context,
		repo *giturl.URL,
		name string,
	) error

	// RateLimit reports the current API budget.
	RateLimit(ctx context.Context) (RateLimit, error)

	// ResolveRef parses a dependency reference token
	// (absolute PR URL, "owner/repo#N" or "path!N",
	// or a bare "#N"/"!N" relative to base) into a
	// repository URL and PR number. ok is false when
	// the token does not match this provider's
	// grammar.
	ResolveRef(
		ref string,
		base *giturl.URL,
	) (repo *giturl.URL, number int, ok bool)

	// TestBranchName selects the upstream ref to
	// build for pr, applying the configured commit
	// strategy and, when needed, resolving unknown
	// mergeability against the provider.
	TestBranchName(
		ctx context.Context,
		pr *PullRequest,
	) (string, error)
}
