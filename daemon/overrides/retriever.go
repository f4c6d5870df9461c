package overrides

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// Task list grammar inside a pull request description:
//
//	Depends on:
//	- [ ] rock-core/drivers#12
//	- [x] already merged, ignored
//
// The block ends at the first line that is not an
// unordered-list item.
var (
	markerPattern = regexp.MustCompile(
		`(?i)^\s*depends on:\s*$`,
	)
	listItemPattern = regexp.MustCompile(
		`^\s*[-*+]\s+`,
	)
	uncheckedPattern = regexp.MustCompile(
		`^\s*[-*+]\s+\[ \]\s+(\S+)`,
	)
	lineSplitPattern = regexp.MustCompile(`\r?\n`)
)

// ParseTaskList extracts the raw dependency reference
// tokens from a pull request body. Only unchecked task
// items count; checked ones are resolved dependencies
// that no longer affect the build. Returns nil when no
// marker is present.
func ParseTaskList(body string) []string {
	lines := lineSplitPattern.Split(body, -1)

	start := -1

	for i, line := range lines {
		if markerPattern.MatchString(line) {
			start = i + 1

			break
		}
	}

	if start < 0 {
		return nil
	}

	var tasks []string

	for _, line := range lines[start:] {
		if !listItemPattern.MatchString(line) {
			break
		}

		if m := uncheckedPattern.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, m[1])
		}
	}

	return tasks
}

// Source resolves dependency references to pull
// requests. *client.Client satisfies it.
type Source interface {
	// ResolveRef parses a reference token with the
	// grammar of the service owning base.
	ResolveRef(
		ref string,
		base *giturl.URL,
	) (*giturl.URL, int, bool)

	// PullRequest fetches a single pull request.
	PullRequest(
		ctx context.Context,
		repo *giturl.URL,
		number int,
	) (*service.PullRequest, error)
}

// Retriever expands a pull request's declared
// dependencies into their transitive closure. It is
// rebuilt each polling cycle over the freshly fetched
// pull request set.
type Retriever struct {
	source Source
	known  map[string]*service.PullRequest
}

// NewRetriever creates a Retriever over source. known
// holds the pull requests already fetched this cycle;
// references resolving to one of them reuse the fetched
// facade instead of issuing another lookup.
func NewRetriever(
	source Source,
	known []*service.PullRequest,
) *Retriever {
	byKey := make(
		map[string]*service.PullRequest, len(known),
	)
	for _, pr := range known {
		byKey[pr.Key()] = pr
	}

	return &Retriever{
		source: source,
		known:  byKey,
	}
}

// TaskToPullRequest resolves one reference token to a
// pull request. An unparseable token or one whose
// lookup reports not-found yields nil without error: a
// dangling reference is not a fatal condition.
func (r *Retriever) TaskToPullRequest(
	ctx context.Context,
	task string,
	pr *service.PullRequest,
) (*service.PullRequest, error) {
	const errCtx = "resolving dependency reference"

	repo, number, ok := r.source.ResolveRef(
		task, pr.BaseRepo,
	)
	if !ok {
		return nil, nil
	}

	key := fmt.Sprintf("%s#%d", repo.Key(), number)
	if known, ok := r.known[key]; ok {
		return known, nil
	}

	fetched, err := r.source.PullRequest(
		ctx, repo, number,
	)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf(
			"%s %q: %w", errCtx, task, err,
		)
	}

	return fetched, nil
}

// Dependencies returns the transitive closure of pr's
// declared dependencies in discovery order, each pull
// request at most once. Cycles are broken by the
// visited set; the root is excluded from the result.
// The closure is also recorded on pr.Dependencies.
func (r *Retriever) Dependencies(
	ctx context.Context,
	pr *service.PullRequest,
) ([]*service.PullRequest, error) {
	const errCtx = "retrieving dependencies"

	visited := map[string]bool{pr.Key(): true}

	var result []*service.PullRequest

	var walk func(*service.PullRequest) error

	walk = func(current *service.PullRequest) error {
		for _, task := range ParseTaskList(current.Body) {
			dep, err := r.TaskToPullRequest(
				ctx, task, current,
			)
			if err != nil {
				return err
			}

			if dep == nil || visited[dep.Key()] {
				continue
			}

			visited[dep.Key()] = true
			result = append(result, dep)

			if err := walk(dep); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(pr); err != nil {
		return nil, fmt.Errorf(
			"%s of %s: %w", errCtx, pr, err,
		)
	}

	pr.Dependencies = result

	return result, nil
}
