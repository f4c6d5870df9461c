package service

import (
	"time"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
)

// Branch is a facade over a provider's branch response.
// Identity is the (repository, name) pair.
type Branch struct {
	// Repo is the repository owning the branch.
	Repo *giturl.URL

	// Name is the branch name.
	Name string

	// Sha is the tip commit of the branch.
	Sha string

	// CommitAuthor is the author of the tip commit.
	CommitAuthor string

	// CommitDate is the author date of the tip commit.
	CommitDate time.Time
}
