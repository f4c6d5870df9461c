package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildbot"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildconf"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/overrides"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// reconcile brings the buildconf branch set into
// agreement with the currently open pull requests:
// fetch, partition active/stale, delete orphaned and
// no-longer-active branches, create or resync the
// active ones, evict stale cache entries.
func (e *Engine) reconcile(ctx context.Context) error {
	const errCtx = "reconciling pull requests"

	fetched, err := e.fetchPullRequests(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	active, stale := e.partition(fetched)

	byBranch := make(
		map[string]*service.PullRequest, len(active),
	)
	for _, pr := range active {
		name := buildconf.BranchName(
			e.namespace, e.project, pr,
		)
		byBranch[name] = pr
	}

	existing, err := e.syncBranches(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, branch := range existing {
		if e.keepBranch(branch.Name, byBranch) {
			continue
		}

		if err := e.hosting.DeleteBranch(
			ctx, e.buildconf.Repo, branch.Name,
		); err != nil {
			return fmt.Errorf(
				"%s: delete %s: %w",
				errCtx, branch.Name, err,
			)
		}

		slog.Info(
			"deleted synchronized branch",
			"branch", branch.Name,
		)

		delete(existing, branch.Name)
	}

	retriever := overrides.NewRetriever(
		e.hosting, fetched,
	)

	for _, pr := range active {
		if err := e.syncPullRequest(
			ctx, retriever, pr, existing,
		); err != nil {
			return fmt.Errorf(
				"%s: %s: %w", errCtx, pr, err,
			)
		}
	}

	keep := make(
		[]*service.PullRequest,
		0, len(active)+len(stale),
	)
	keep = append(keep, active...)
	keep = append(keep, stale...)

	if evicted := e.cache.Evict(keep); evicted > 0 {
		slog.Info(
			"evicted cache entries",
			"count", evicted,
		)
	}

	return nil
}

// fetchPullRequests lists the open pull requests of
// every distinct (repository, mainline) pair among the
// tracked packages. Duplicate pairs are fetched once.
func (e *Engine) fetchPullRequests(
	ctx context.Context,
) ([]*service.PullRequest, error) {
	seen := make(map[string]bool, len(e.packages))

	var result []*service.PullRequest

	for _, pkg := range e.packages {
		pair := pkg.Repo.Key() + "\x00" + pkg.Branch
		if seen[pair] {
			continue
		}

		seen[pair] = true

		prs, err := e.hosting.PullRequests(
			ctx, pkg.Repo, pkg.Branch,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"listing %s: %w", pkg.Repo, err,
			)
		}

		result = append(result, prs...)
	}

	return result, nil
}

// partition splits freshly fetched pull requests into
// active and stale by update-age cutoff. Stale PRs are
// excluded from reconciliation but keep their cache
// entries.
func (e *Engine) partition(
	fetched []*service.PullRequest,
) (active, stale []*service.PullRequest) {
	cutoff := e.now().Add(-e.staleCutoff)

	for _, pr := range fetched {
		if pr.UpdatedAt.Before(cutoff) {
			stale = append(stale, pr)

			continue
		}

		active = append(active, pr)
	}

	return active, stale
}

// syncBranches fetches the buildconf branches living
// under the reserved namespace, keyed by name.
func (e *Engine) syncBranches(
	ctx context.Context,
) (map[string]*service.Branch, error) {
	branches, err := e.hosting.Branches(
		ctx, e.buildconf.Repo,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"listing buildconf branches: %w", err,
		)
	}

	result := make(map[string]*service.Branch)

	for _, branch := range branches {
		if buildconf.InNamespace(
			e.namespace, branch.Name,
		) {
			result[branch.Name] = branch
		}
	}

	return result, nil
}

// keepBranch reports whether a namespace branch should
// survive this cycle: it must parse under the current
// project's grammar and map to an active pull request.
// Unparseable names cover legacy schemes and are
// always deleted.
func (e *Engine) keepBranch(
	name string,
	byBranch map[string]*service.PullRequest,
) bool {
	parsed, ok := buildconf.ParseBranchName(
		e.namespace, name,
	)
	if !ok || parsed.Project != e.project {
		return false
	}

	_, tracked := byBranch[name]

	return tracked
}

// syncPullRequest creates the synchronized branch for
// a pull request if absent, or resyncs it when the
// cache shows a change. An existing branch with an
// unchanged snapshot is left alone.
func (e *Engine) syncPullRequest(
	ctx context.Context,
	retriever *overrides.Retriever,
	pr *service.PullRequest,
	existing map[string]*service.Branch,
) error {
	manifest, err := e.manifest(ctx, retriever, pr)
	if err != nil {
		return err
	}

	name := buildconf.BranchName(
		e.namespace, e.project, pr,
	)

	_, present := existing[name]
	if present && !e.cache.Changed(pr, manifest) {
		return nil
	}

	content, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf(
			"marshaling overrides: %w", err,
		)
	}

	sha, err := e.sourceControl.CommitAndPush(
		ctx, name, content,
	)
	if err != nil {
		return fmt.Errorf("pushing: %w", err)
	}

	e.cache.Add(pr, manifest)

	if err := e.builder.Build(ctx, buildbot.Change{
		Author:     pr.Author,
		Branch:     name,
		Revision:   sha,
		Repository: e.buildconf.Repo.String(),
		When:       changeWhen(pr.UpdatedAt),
	}); err != nil {
		return fmt.Errorf(
			"triggering build: %w", err,
		)
	}

	slog.Info(
		"synchronized pull request",
		"pull_request", pr.String(),
		"branch", name,
		"sha", sha,
	)

	return nil
}

// manifest computes the override manifest for a pull
// request: one entry per (PR in the closure, tracked
// package affected by that PR's base repository),
// pointing the package at the PR's test branch.
func (e *Engine) manifest(
	ctx context.Context,
	retriever *overrides.Retriever,
	pr *service.PullRequest,
) (overrides.Manifest, error) {
	deps, err := retriever.Dependencies(ctx, pr)
	if err != nil {
		return nil, err
	}

	closure := make(
		[]*service.PullRequest, 0, len(deps)+1,
	)
	closure = append(closure, pr)
	closure = append(closure, deps...)

	manifest := overrides.Manifest{}

	for _, member := range closure {
		ref, err := e.hosting.TestBranchName(
			ctx, member,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"selecting test branch for %s: %w",
				member, err,
			)
		}

		for _, pkg := range e.packages {
			if !e.affects(member, pkg) {
				continue
			}

			manifest = append(manifest,
				overrides.Entry{
					Package:      pkg.Name,
					RemoteBranch: ref,
				},
			)
		}
	}

	return manifest, nil
}

// changeWhen converts an event time to a build change
// timestamp. The zero time maps to zero, not to its
// large negative unix value, so the trigger substitutes
// the submission time.
func changeWhen(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// affects reports whether a pull request targets a
// tracked package's repository and mainline.
func (e *Engine) affects(
	pr *service.PullRequest,
	pkg Package,
) bool {
	if !pr.BaseRepo.Same(pkg.Repo) {
		return false
	}

	return pkg.Branch == "" ||
		pkg.Branch == pr.BaseBranch
}
