package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/poller"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// config is the daemon's YAML configuration file.
type config struct {
	// Project is the identifier embedded in
	// synchronized branch names.
	Project string `yaml:"project"`

	// Namespace overrides the reserved branch
	// namespace. Empty means "autoproj".
	Namespace string `yaml:"namespace"`

	// PollInterval and StaleCutoff are duration
	// strings ("60s", "2880h"). Empty means the
	// engine defaults.
	PollInterval string `yaml:"poll_interval"`
	StaleCutoff  string `yaml:"stale_cutoff"`

	// UpdateFailedFile marks a failed workspace
	// update: while the file exists, mainline build
	// triggers are suppressed.
	UpdateFailedFile string `yaml:"update_failed_file"`

	Buildconf buildconfConfig `yaml:"buildconf"`
	Packages  []packageConfig `yaml:"packages"`
	Services  []serviceConfig `yaml:"services"`
	Buildbot  buildbotConfig  `yaml:"buildbot"`
}

type buildconfConfig struct {
	Repo     string `yaml:"repo"`
	Branch   string `yaml:"branch"`
	LocalSha string `yaml:"local_sha"`

	// Dir is where the local clone lives.
	Dir string `yaml:"dir"`

	// OverridesFile and CommitTemplate tune the
	// committed file and message. Empty means the
	// writer defaults.
	OverridesFile  string `yaml:"overrides_file"`
	CommitTemplate string `yaml:"commit_template"`
}

type packageConfig struct {
	Name     string `yaml:"name"`
	Repo     string `yaml:"repo"`
	Branch   string `yaml:"branch"`
	LocalSha string `yaml:"local_sha"`
}

type serviceConfig struct {
	// Kind is "github" or "gitlab".
	Kind string `yaml:"kind"`

	Host        string `yaml:"host"`
	Endpoint    string `yaml:"endpoint"`
	AccessToken string `yaml:"access_token"`

	// MergeabilityTimeout is a duration string,
	// honored by GitHub-style adapters only.
	MergeabilityTimeout string `yaml:"mergeability_timeout"`

	// CommitStrategy is "", "merge" or "head".
	CommitStrategy string `yaml:"commit_strategy"`
}

type buildbotConfig struct {
	URL string `yaml:"url"`
}

// loadConfig reads and validates the daemon
// configuration file.
func loadConfig(path string) (*config, error) {
	const errCtx = "loading configuration"

	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var cfg config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf(
			"%s: parse %s: %w", errCtx, path, err,
		)
	}

	if cfg.Project == "" {
		return nil, fmt.Errorf(
			"%s: project must be set", errCtx,
		)
	}

	if cfg.Buildconf.Repo == "" {
		return nil, fmt.Errorf(
			"%s: buildconf repo must be set", errCtx,
		)
	}

	if len(cfg.Services) == 0 {
		return nil, fmt.Errorf(
			"%s: at least one service must be "+
				"configured", errCtx,
		)
	}

	return &cfg, nil
}

// duration parses an optional duration string; empty
// yields zero, which downstream constructors replace
// with their defaults.
func duration(
	value string,
	field string,
) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf(
			"parsing %s: %w", field, err,
		)
	}

	return parsed, nil
}

// packages converts the configured package list,
// parsing repository URLs.
func (c *config) packages() ([]poller.Package, error) {
	result := make(
		[]poller.Package, 0, len(c.Packages),
	)

	for _, pkg := range c.Packages {
		repo, err := giturl.Parse(pkg.Repo)
		if err != nil {
			return nil, fmt.Errorf(
				"package %s: %w", pkg.Name, err,
			)
		}

		branch := pkg.Branch
		if branch == "" {
			branch = "master"
		}

		result = append(result, poller.Package{
			Name:     pkg.Name,
			Repo:     repo,
			Branch:   branch,
			LocalSha: pkg.LocalSha,
		})
	}

	return result, nil
}

// buildconfPackage converts the buildconf section into
// the pseudo package the engine watches.
func (c *config) buildconfPackage() (
	poller.Package, error,
) {
	repo, err := giturl.Parse(c.Buildconf.Repo)
	if err != nil {
		return poller.Package{}, fmt.Errorf(
			"buildconf repo: %w", err,
		)
	}

	branch := c.Buildconf.Branch
	if branch == "" {
		branch = "master"
	}

	return poller.Package{
		Name:     "buildconf",
		Repo:     repo,
		Branch:   branch,
		LocalSha: c.Buildconf.LocalSha,
	}, nil
}

// updateFailed builds the workspace-update-failed
// probe from the configured marker file.
func (c *config) updateFailed() func() bool {
	path := c.UpdateFailedFile
	if path == "" {
		return nil
	}

	return func() bool {
		_, err := os.Stat(path)

		return err == nil
	}
}

// commitStrategy validates a configured strategy
// string.
func commitStrategy(
	value string,
) (service.CommitStrategy, error) {
	switch service.CommitStrategy(value) {
	case service.CommitStrategyDefault,
		service.CommitStrategyMerge,
		service.CommitStrategyHead:
		return service.CommitStrategy(value), nil
	default:
		return "", fmt.Errorf(
			"unknown commit strategy %q", value,
		)
	}
}
