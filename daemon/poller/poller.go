package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildbot"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildconf"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/prcache"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// ErrRestartRequired signals that a watched mainline
// moved and the whole process must restart and update
// its workspace before polling again.
var ErrRestartRequired = errors.New(
	"restart required",
)

const (
	defaultPollInterval = time.Minute

	// defaultStaleCutoff is the update-age beyond
	// which an open pull request is no longer
	// actively synchronized.
	defaultStaleCutoff = 120 * 24 * time.Hour
)

// Package is a tracked workspace package: where its
// mainline lives and the commit the local workspace
// was last updated to.
type Package struct {
	// Name is the workspace package name
	// ("drivers/iodrivers_base").
	Name string

	// Repo is the package's upstream repository.
	Repo *giturl.URL

	// Branch is the tracked mainline branch.
	Branch string

	// LocalSha is the commit currently checked out
	// in the workspace.
	LocalSha string
}

// Hosting is the slice of the hosting client the
// engine consumes. *client.Client satisfies it.
type Hosting interface {
	PullRequests(
		ctx context.Context,
		repo *giturl.URL,
		baseBranch string,
	) ([]*service.PullRequest, error)

	PullRequest(
		ctx context.Context,
		repo *giturl.URL,
		number int,
	) (*service.PullRequest, error)

	Branches(
		ctx context.Context,
		repo *giturl.URL,
	) ([]*service.Branch, error)

	Branch(
		ctx context.Context,
		repo *giturl.URL,
		name string,
	) (*service.Branch, error)

	DeleteBranch(
		ctx context.Context,
		repo *giturl.URL,
		name string,
	) error

	TestBranchName(
		ctx context.Context,
		pr *service.PullRequest,
	) (string, error)

	ResolveRef(
		ref string,
		base *giturl.URL,
	) (*giturl.URL, int, bool)
}

// SourceControl materializes synchronized branches on
// the buildconf repository. *buildconf.Writer
// satisfies it.
type SourceControl interface {
	CommitAndPush(
		ctx context.Context,
		branch string,
		content []byte,
	) (string, error)
}

// Builder triggers downstream builds.
// *buildbot.Trigger satisfies it.
type Builder interface {
	Build(
		ctx context.Context,
		change buildbot.Change,
	) error
}

// Config holds the settings and collaborators needed
// to create an Engine.
type Config struct {
	// Project is the project identifier embedded in
	// synchronized branch names.
	Project string

	// Namespace is the reserved branch namespace.
	// Empty means buildconf.DefaultNamespace.
	Namespace string

	// Buildconf identifies the buildconf repository
	// and its tracked mainline.
	Buildconf Package

	// Packages are the tracked workspace packages.
	Packages []Package

	// Hosting, SourceControl, Builder and Cache are
	// the engine's collaborators.
	Hosting       Hosting
	SourceControl SourceControl
	Builder       Builder
	Cache         *prcache.Cache

	// PollInterval is the sleep between cycles.
	// Zero means one minute.
	PollInterval time.Duration

	// StaleCutoff is the update-age beyond which an
	// open PR is excluded from active
	// reconciliation. Zero means 120 days.
	StaleCutoff time.Duration

	// UpdateFailed reports whether the last
	// workspace update failed, which suppresses
	// mainline build triggers. Nil means never.
	UpdateFailed func() bool

	// Clock and Sleep are injectable for tests. Nil
	// means time.Now and time.Sleep.
	Clock func() time.Time
	Sleep func(time.Duration)
}

// Engine reconciles the buildconf repository's branch
// set with the open pull requests of the tracked
// packages, one synchronous cycle at a time.
type Engine struct {
	project       string
	namespace     string
	buildconf     Package
	packages      []Package
	hosting       Hosting
	sourceControl SourceControl
	builder       Builder
	cache         *prcache.Cache
	pollInterval  time.Duration
	staleCutoff   time.Duration
	updateFailed  func() bool
	now           func() time.Time
	sleep         func(time.Duration)
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	const errCtx = "creating reconciliation engine"

	if cfg.Project == "" {
		return nil, fmt.Errorf(
			"%s: project must be set", errCtx,
		)
	}

	if cfg.Buildconf.Repo == nil {
		return nil, fmt.Errorf(
			"%s: buildconf repository must be set",
			errCtx,
		)
	}

	if cfg.Buildconf.Branch == "" {
		return nil, fmt.Errorf(
			"%s: buildconf branch must be set",
			errCtx,
		)
	}

	if cfg.Hosting == nil {
		return nil, fmt.Errorf(
			"%s: hosting client must be set", errCtx,
		)
	}

	if cfg.SourceControl == nil {
		return nil, fmt.Errorf(
			"%s: source control must be set", errCtx,
		)
	}

	if cfg.Builder == nil {
		return nil, fmt.Errorf(
			"%s: builder must be set", errCtx,
		)
	}

	if cfg.Cache == nil {
		return nil, fmt.Errorf(
			"%s: cache must be set", errCtx,
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = buildconf.DefaultNamespace
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	staleCutoff := cfg.StaleCutoff
	if staleCutoff <= 0 {
		staleCutoff = defaultStaleCutoff
	}

	updateFailed := cfg.UpdateFailed
	if updateFailed == nil {
		updateFailed = func() bool { return false }
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Engine{
		project:       cfg.Project,
		namespace:     namespace,
		buildconf:     cfg.Buildconf,
		packages:      cfg.Packages,
		hosting:       cfg.Hosting,
		sourceControl: cfg.SourceControl,
		builder:       cfg.Builder,
		cache:         cfg.Cache,
		pollInterval:  pollInterval,
		staleCutoff:   staleCutoff,
		updateFailed:  updateFailed,
		now:           now,
		sleep:         sleep,
	}, nil
}

// Cycle runs one full polling cycle: mainline watch,
// pull request reconciliation, cache persistence.
// Returns ErrRestartRequired when a watched mainline
// moved; the caller is expected to exit and let the
// supervisor relaunch the process.
func (e *Engine) Cycle(ctx context.Context) error {
	const errCtx = "polling cycle"

	restart, err := e.watchMainlines(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := e.reconcile(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := e.cache.Dump(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if restart {
		return ErrRestartRequired
	}

	return nil
}

// Run cycles until ctx is cancelled or a cycle fails.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.Cycle(ctx); err != nil {
			return err
		}

		slog.Debug(
			"cycle complete",
			"sleep", e.pollInterval,
		)

		e.sleep(e.pollInterval)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
