package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildbot"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// watchMainlines compares each tracked package's local
// sha with the hosting service's current mainline tip.
// A moved mainline triggers a build for that package
// (unless the last workspace update failed) and
// requests a process restart so the workspace can
// update. A move of the buildconf's own mainline
// additionally clears the whole cache: the override
// scheme itself may have changed.
func (e *Engine) watchMainlines(
	ctx context.Context,
) (restart bool, err error) {
	const errCtx = "watching mainline branches"

	watched := make(
		[]Package, 0, len(e.packages)+1,
	)
	watched = append(watched, e.buildconf)
	watched = append(watched, e.packages...)

	for _, pkg := range watched {
		moved, branch, err := e.mainlineMoved(
			ctx, pkg,
		)
		if err != nil {
			return false, fmt.Errorf(
				"%s: %s: %w", errCtx, pkg.Name, err,
			)
		}

		if !moved {
			continue
		}

		slog.Info(
			"mainline moved",
			"package", pkg.Name,
			"branch", pkg.Branch,
			"local", pkg.LocalSha,
			"remote", branch.Sha,
		)

		restart = true

		if pkg.Repo.Same(e.buildconf.Repo) {
			e.cache.Clear()
		}

		if e.updateFailed() {
			slog.Warn(
				"skipping build trigger, "+
					"last workspace update failed",
				"package", pkg.Name,
			)

			continue
		}

		if err := e.builder.Build(
			ctx, mainlineChange(pkg, branch),
		); err != nil {
			return false, fmt.Errorf(
				"%s: triggering %s: %w",
				errCtx, pkg.Name, err,
			)
		}
	}

	return restart, nil
}

// mainlineMoved fetches a package's mainline tip and
// compares it with the locally known sha. A mainline
// the service cannot find is logged and skipped, not
// fatal.
func (e *Engine) mainlineMoved(
	ctx context.Context,
	pkg Package,
) (bool, *service.Branch, error) {
	branch, err := e.hosting.Branch(
		ctx, pkg.Repo, pkg.Branch,
	)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			slog.Warn(
				"mainline branch not found",
				"package", pkg.Name,
				"branch", pkg.Branch,
			)

			return false, nil, nil
		}

		return false, nil, err
	}

	moved := pkg.LocalSha != "" &&
		branch.Sha != pkg.LocalSha

	return moved, branch, nil
}

// mainlineChange builds the change description for a
// moved mainline.
func mainlineChange(
	pkg Package,
	branch *service.Branch,
) buildbot.Change {
	change := buildbot.Change{
		Author:     branch.CommitAuthor,
		Branch:     pkg.Branch,
		Revision:   branch.Sha,
		Repository: pkg.Repo.String(),
		When:       changeWhen(branch.CommitDate),
	}

	if pkg.Name != "" {
		change.Properties = map[string]string{
			"package": pkg.Name,
		}
	}

	return change
}
