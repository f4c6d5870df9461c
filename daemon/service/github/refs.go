package github

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// Dependency reference grammar: an absolute pull
// request URL, "owner/repo#N", or a bare "#N" relative
// to the referencing PR's own repository.
var (
	urlRefPattern = regexp.MustCompile(
		`^https?://([\w.-]+)/([\w.-]+/[\w.-]+)` +
			`/pull/(\d+)/?$`,
	)
	pathRefPattern = regexp.MustCompile(
		`^([\w.-]+/[\w.-]+)#(\d+)$`,
	)
	bareRefPattern = regexp.MustCompile(`^#(\d+)$`)
)

// ResolveRef parses a dependency reference token into
// a repository URL and PR number. ok is false when ref
// does not match the GitHub grammar.
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
// pr. The default strategy prefers the merge ref and
// falls back to the head ref for drafts and PRs that
// are not known to be mergeable.
func (s *Service) TestBranchName(
	ctx context.Context,
	pr *service.PullRequest,
) (string, error) {
	const errCtx = "selecting github test branch"

	headRef := fmt.Sprintf(
		"refs/pull/%d/head", pr.Number,
	)
	mergeRef := fmt.Sprintf(
		"refs/pull/%d/merge", pr.Number,
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
		resolved, err := s.resolveMergeability(ctx, pr)
		if err != nil {
			return "", fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		mergeable = resolved
	}

	if mergeable != nil && *mergeable {
		return mergeRef, nil
	}

	return headRef, nil
}

// resolveMergeability polls the single-PR endpoint
// until GitHub reports a definite answer or the
// configured timeout elapses. Results are cached per
// (head sha, base sha) pair; a changed sha produces a
// new key, so stale answers are never reused.
func (s *Service) resolveMergeability(
	ctx context.Context,
	pr *service.PullRequest,
) (*bool, error) {
	const errCtx = "resolving github mergeability"

	key := mergeKey{
		headSha: pr.HeadSha,
		baseSha: pr.BaseSha,
	}

	if cached, ok := s.mergeCache[key]; ok {
		return &cached, nil
	}

	deadline := time.Now().Add(s.timeout)

	for {
		fetched, err := s.PullRequest(
			ctx, pr.BaseRepo, pr.Number,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		if fetched.HeadSha != pr.HeadSha ||
			fetched.BaseSha != pr.BaseSha {
			// The PR moved under us; the answer
			// belongs to the new sha pair.
			key = mergeKey{
				headSha: fetched.HeadSha,
				baseSha: fetched.BaseSha,
			}
		}

		if fetched.Mergeable != nil {
			s.mergeCache[key] = *fetched.Mergeable

			return fetched.Mergeable, nil
		}

		if time.Now().After(deadline) {
			// Still unknown after the timeout: leave
			// the tri-state unresolved.
			return nil, nil
		}

		s.sleep(mergeabilityPollInterval)
	}
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
