package buildconf

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/exec"
)

// defaultCommitTemplate is the commit message used
// when the configuration does not provide one.
const defaultCommitTemplate = "[daemon] update overrides for {{BRANCH}}"

// defaultOverridesFile is the file committed on every
// synchronized branch.
const defaultOverridesFile = "overrides.yml"

// WriterConfig holds the settings needed to create a
// buildconf Writer.
type WriterConfig struct {
	// RepoURL is the buildconf repository remote.
	RepoURL string

	// Dir is the local clone location.
	Dir string

	// PrimaryBranch is the buildconf mainline
	// branches are created from (e.g. "master").
	PrimaryBranch string

	// OverridesFile is the path of the committed
	// override file, relative to the repository root.
	// Empty means "overrides.yml".
	OverridesFile string

	// CommitTemplate is the commit message template.
	// "{{BRANCH}}" expands to the branch name. Empty
	// means the default template.
	CommitTemplate string
}

// Writer materializes synchronized branches on a local
// clone of the buildconf repository: write the override
// file, commit, force-push. It implements the poller's
// SourceControl collaborator.
type Writer struct {
	repoURL       string
	dir           string
	remoteName    string
	primaryBranch string
	overridesFile string
	commitMsg     *fasttemplate.Template
}

// NewWriter validates cfg and returns a Writer. Call
// Clone before the first CommitAndPush.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	const errCtx = "creating buildconf writer"

	if cfg.RepoURL == "" {
		return nil, fmt.Errorf(
			"%s: repo url must be set", errCtx,
		)
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf(
			"%s: dir must be set", errCtx,
		)
	}

	primary := cfg.PrimaryBranch
	if primary == "" {
		primary = "master"
	}

	overridesFile := cfg.OverridesFile
	if overridesFile == "" {
		overridesFile = defaultOverridesFile
	}

	template := cfg.CommitTemplate
	if template == "" {
		template = defaultCommitTemplate
	}

	return &Writer{
		repoURL:       cfg.RepoURL,
		dir:           cfg.Dir,
		remoteName:    "origin",
		primaryBranch: primary,
		overridesFile: overridesFile,
		commitMsg: fasttemplate.New(
			template, "{{", "}}",
		),
	}, nil
}

// Clone creates a fresh local clone of the buildconf
// repository, replacing any previous one.
func (w *Writer) Clone(ctx context.Context) error {
	const errCtx = "cloning buildconf repository"

	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	_, err := exec.Ex(
		ctx, "", "git",
		"clone",
		"--single-branch",
		"--branch", w.primaryBranch,
		"--no-tags",
		"--origin", w.remoteName,
		w.repoURL, w.dir,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// CommitAndPush writes content as the override file on
// branch, recreated from the buildconf mainline,
// commits it, and force-pushes the ref. Returns the
// sha of the pushed commit. Re-pushing identical
// content yields the same tree and is safe to repeat.
func (w *Writer) CommitAndPush(
	ctx context.Context,
	branch string,
	content []byte,
) (string, error) {
	const errCtx = "committing buildconf branch"

	_, err := exec.Ex(
		ctx, w.dir, "git",
		"fetch", w.remoteName, w.primaryBranch,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: fetch: %w", errCtx, err,
		)
	}

	_, err = exec.Ex(
		ctx, w.dir, "git",
		"checkout", "-B", branch,
		w.remoteName+"/"+w.primaryBranch,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: checkout: %w", errCtx, err,
		)
	}

	target := filepath.Join(w.dir, w.overridesFile)

	if err := os.MkdirAll(
		filepath.Dir(target), 0o755,
	); err != nil {
		return "", fmt.Errorf(
			"%s: create dir: %w", errCtx, err,
		)
	}

	//nolint:gosec // override file is not secret
	if err := os.WriteFile(
		target, content, 0o644,
	); err != nil {
		return "", fmt.Errorf(
			"%s: write overrides: %w", errCtx, err,
		)
	}

	_, err = exec.Ex(
		ctx, w.dir, "git",
		"add", w.overridesFile,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: add: %w", errCtx, err,
		)
	}

	if !w.isClean(ctx) {
		message := w.commitMsg.ExecuteString(
			map[string]any{"BRANCH": branch},
		)

		_, err = exec.Ex(
			ctx, w.dir, "git",
			"commit", "-m", message,
		)
		if err != nil {
			return "", fmt.Errorf(
				"%s: commit: %w", errCtx, err,
			)
		}
	}

	_, err = exec.Ex(
		ctx, w.dir, "git",
		"push", "-f", w.remoteName, branch,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: push: %w", errCtx, err,
		)
	}

	sha, err := exec.Ex(
		ctx, w.dir, "git", "rev-parse", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: rev-parse: %w", errCtx, err,
		)
	}

	sha = strings.TrimSpace(sha)

	slog.Info(
		"pushed synchronized branch",
		"branch", branch,
		"sha", sha,
	)

	return sha, nil
}

// isClean reports whether the working tree has no
// staged or unstaged changes.
func (w *Writer) isClean(ctx context.Context) bool {
	out, err := exec.Ex(
		ctx, w.dir, "git", "status", "--porcelain",
	)
	if err != nil {
		return false
	}

	return strings.TrimSpace(out) == ""
}
