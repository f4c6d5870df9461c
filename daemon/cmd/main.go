// Command autoproj_daemon keeps a buildconf
// repository's branch set in agreement with the open
// pull requests of the tracked packages. It polls the
// configured git hosting services, synchronizes one
// branch per active pull request, and triggers
// downstream builds. Exit code 2 requests a
// restart-and-update from the supervisor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildbot"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildconf"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/client"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/poller"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/prcache"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service/github"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service/gitlab"
)

const restartExitCode = 2

func main() {
	err := run()
	if err == nil {
		return
	}

	if errors.Is(err, poller.ErrRestartRequired) {
		slog.Info(
			"exiting for restart and update",
		)
		os.Exit(restartExitCode)
	}

	slog.Error("fatal", "error", err)
	os.Exit(1)
}

func run() error {
	const errCtx = "running daemon"

	configPath := flag.String(
		"config", "autoproj_daemon.yml",
		"Daemon configuration file",
	)
	cachePath := flag.String(
		"cache", "autoproj_daemon_cache.yml",
		"Pull request cache file",
	)
	once := flag.Bool(
		"once", false,
		"Run a single cycle and exit",
	)
	logLevel := flag.String(
		"log_level", "info",
		"Log level: debug, info, warn or error",
	)

	flag.Parse()

	if err := setupLogging(*logLevel); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx := context.Background()

	engine, err := buildEngine(
		ctx, cfg, *cachePath,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if *once {
		return engine.Cycle(ctx)
	}

	return engine.Run(ctx)
}

// setupLogging installs the default slog handler at
// the requested level.
func setupLogging(level string) error {
	var lvl slog.Level

	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf(
			"unknown log level %q", level,
		)
	}

	slog.SetDefault(slog.New(
		slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: lvl},
		),
	))

	return nil
}

// buildEngine assembles the engine and all of its
// collaborators from the configuration.
func buildEngine(
	ctx context.Context,
	cfg *config,
	cachePath string,
) (*poller.Engine, error) {
	services, err := buildServices(cfg)
	if err != nil {
		return nil, err
	}

	hosting := client.New(services)

	dir := cfg.Buildconf.Dir
	if dir == "" {
		dir = filepath.Join(
			os.TempDir(),
			"autoproj_daemon", "buildconf",
		)
	}

	writer, err := buildconf.NewWriter(
		buildconf.WriterConfig{
			RepoURL:        cfg.Buildconf.Repo,
			Dir:            dir,
			PrimaryBranch:  cfg.Buildconf.Branch,
			OverridesFile:  cfg.Buildconf.OverridesFile,
			CommitTemplate: cfg.Buildconf.CommitTemplate,
		},
	)
	if err != nil {
		return nil, err
	}

	if err := writer.Clone(ctx); err != nil {
		return nil, err
	}

	trigger, err := buildbot.NewTrigger(
		buildbot.Config{URL: cfg.Buildbot.URL},
	)
	if err != nil {
		return nil, err
	}

	cache, err := prcache.Load(cachePath)
	if err != nil {
		return nil, err
	}

	buildconfPkg, err := cfg.buildconfPackage()
	if err != nil {
		return nil, err
	}

	packages, err := cfg.packages()
	if err != nil {
		return nil, err
	}

	pollInterval, err := duration(
		cfg.PollInterval, "poll_interval",
	)
	if err != nil {
		return nil, err
	}

	staleCutoff, err := duration(
		cfg.StaleCutoff, "stale_cutoff",
	)
	if err != nil {
		return nil, err
	}

	return poller.NewEngine(poller.Config{
		Project:       cfg.Project,
		Namespace:     cfg.Namespace,
		Buildconf:     buildconfPkg,
		Packages:      packages,
		Hosting:       hosting,
		SourceControl: writer,
		Builder:       trigger,
		Cache:         cache,
		PollInterval:  pollInterval,
		StaleCutoff:   staleCutoff,
		UpdateFailed:  cfg.updateFailed(),
	})
}

// buildServices creates one provider adapter per
// configured service entry.
func buildServices(
	cfg *config,
) ([]service.Service, error) {
	result := make(
		[]service.Service, 0, len(cfg.Services),
	)

	for _, entry := range cfg.Services {
		svc, err := buildService(entry)
		if err != nil {
			return nil, fmt.Errorf(
				"service %s: %w", entry.Host, err,
			)
		}

		result = append(result, svc)
	}

	return result, nil
}

func buildService(
	entry serviceConfig,
) (service.Service, error) {
	strategy, err := commitStrategy(
		entry.CommitStrategy,
	)
	if err != nil {
		return nil, err
	}

	switch entry.Kind {
	case "github":
		timeout, err := duration(
			entry.MergeabilityTimeout,
			"mergeability_timeout",
		)
		if err != nil {
			return nil, err
		}

		return github.NewService(github.Config{
			Host:                entry.Host,
			Endpoint:            entry.Endpoint,
			AccessToken:         entry.AccessToken,
			MergeabilityTimeout: timeout,
			CommitStrategy:      strategy,
		})
	case "gitlab":
		return gitlab.NewService(gitlab.Config{
			Host:           entry.Host,
			Endpoint:       entry.Endpoint,
			AccessToken:    entry.AccessToken,
			CommitStrategy: strategy,
		})
	default:
		return nil, fmt.Errorf(
			"unknown service kind %q", entry.Kind,
		)
	}
}
