package gitlab

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// Dependency reference grammar: an absolute merge
// request URL, "full/project/path!N", or a bare "!N"
// relative to the referencing MR's own project.
var (
	urlRefPattern = regexp.MustCompile(
		`^https?://([\w.-]+)/(.+?)` +
			`(?:/-)?/merge_requests/(\d+)/?$`,
	)
	pathRefPattern = regexp.MustCompile(
		`^([\w.-]+(?:/[\w.-]+)+)!(\d+)$`,
	)
	bareRefPattern = regexp.MustCompile(`^!(\d+)$`)
)

// ResolveRef parses a dependency reference token into
// a project URL and MR number. ok is false when ref
// does not match the GitLab grammar.
func (s *Service) ResolveRef(
	ref string,
	base *giturl.URL,
) (*giturl.URL, int, bool) {
	if m := urlRefPattern.FindStringSubmatch(ref); m != nil {
		repo, err := giturl.Parse(
			"https://" + m[1] + "/" + m[2],
		)
		if err != nil {
			return nil, 0, false
		}

		return repo, mustAtoi(m[3]), true
	}

	if m := pathRefPattern.FindStringSubmatch(ref); m != nil {
		repo, err := giturl.Parse(
			"https://" + s.host + "/" + m[1],
		)
		if err != nil {
			return nil, 0, false
		}

		return repo, mustAtoi(m[2]), true
	}

	if m := bareRefPattern.FindStringSubmatch(ref); m != nil {
		return base, mustAtoi(m[1]), true
	}

	return nil, 0, false
}

// TestBranchName selects the upstream ref to build for
// pr. GitLab computes mergeability near-synchronously;
// when the status is still unknown a single refetch of
// the merge request resolves it in practice.
func (s *Service) TestBranchName(
	ctx context.Context,
	pr *service.PullRequest,
) (string, error) {
	const errCtx = "selecting gitlab test branch"

	headRef := fmt.Sprintf(
		"refs/merge-requests/%d/head", pr.Number,
	)
	mergeRef := fmt.Sprintf(
		"refs/merge-requests/%d/merge", pr.Number,
	)

	switch s.strategy {
	case service.CommitStrategyMerge:
		return mergeRef, nil
	case service.CommitStrategyHead:
		return headRef, nil
	}

	if pr.Draft {
		return headRef, nil
	}

	// The facade is shared state; resolve into a local
	// instead of writing the answer back into pr.
	mergeable := pr.Mergeable
	if mergeable == nil {
		fetched, err := s.PullRequest(
			ctx, pr.BaseRepo, pr.Number,
		)
		if err != nil {
			return "", fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		mergeable = fetched.Mergeable
	}

	if mergeable != nil && *mergeable {
		return mergeRef, nil
	}

	return headRef, nil
}

// mustAtoi converts a string already validated as
// digits by a regexp match.
func mustAtoi(digits string) int {
	number, err := strconv.Atoi(digits)
	if err != nil {
		panic(err)
	}

	return number
}
