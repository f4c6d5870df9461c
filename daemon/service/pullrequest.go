package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
)

// Pull request states as normalized across providers.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// PullRequest is a read-mostly facade over a provider's
// raw pull/merge request response, exposing only the
// normalized fields the daemon needs. Identity is the
// (base repository, number) pair. Dependencies is the
// one mutable field and is set only by the overrides
// retriever.
type PullRequest struct {
	// Number is the provider-assigned PR/MR number,
	// scoped to the base repository.
	Number int

	// Title is the PR title.
	Title string

	// Body is the PR description in markdown.
	Body string

	// Author is the login of the PR author.
	Author string

	// State is StateOpen or StateClosed.
	State string

	// Draft reports whether the PR is a draft.
	Draft bool

	// BaseRepo is the repository the PR targets.
	BaseRepo *giturl.URL

	// BaseBranch is the branch the PR targets.
	BaseBranch string

	// BaseSha is the head of the base branch at the
	// time the PR was fetched.
	BaseSha string

	// HeadRepo is the repository the PR comes from.
	HeadRepo *giturl.URL

	// HeadBranch is the source branch of the PR.
	HeadBranch string

	// HeadSha is the tip commit of the source branch.
	HeadSha string

	// Mergeable is the provider-reported tri-state:
	// nil while the provider is still computing it.
	Mergeable *bool

	// UpdatedAt is the provider's last-activity
	// timestamp.
	UpdatedAt time.Time

	// Dependencies is the resolved transitive closure
	// of PRs this one declares in its task list. Set
	// once by the overrides retriever.
	Dependencies []*PullRequest
}

// Open reports whether the PR is open.
func (p *PullRequest) Open() bool {
	return p.State == StateOpen
}

// Same reports whether both facades denote the same
// pull request (same base repository and number).
func (p *PullRequest) Same(other *PullRequest) bool {
	if other == nil {
		return false
	}

	return p.Number == other.Number &&
		p.BaseRepo.Same(other.BaseRepo)
}

// Key returns a canonical identity key usable in maps
// and in the cache file.
func (p *PullRequest) Key() string {
	return fmt.Sprintf(
		"%s#%d", p.BaseRepo.Key(), p.Number,
	)
}

// String renders the PR in the "owner/repo#number"
// form used in log output.
func (p *PullRequest) String() string {
	return fmt.Sprintf(
		"%s#%d", p.BaseRepo.Path(), p.Number,
	)
}

// FullPath returns the base repository path with the
// host prepended, used inside synchronized branch
// names ("github.com/owner/repo").
func (p *PullRequest) FullPath() string {
	return p.BaseRepo.Host() + "/" +
		strings.ToLower(p.BaseRepo.Path())
}
