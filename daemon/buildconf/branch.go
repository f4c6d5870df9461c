package buildconf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// DefaultNamespace is the reserved branch namespace the
// daemon manages on the buildconf repository.
const DefaultNamespace = "autoproj"

// Branch is the identity embedded in a synchronized
// branch's name: which project the branch belongs to,
// which repository the tracked pull request targets,
// and its number.
type Branch struct {
	// Namespace is the reserved namespace prefix.
	Namespace string

	// Project is the project identifier the branch
	// was created for.
	Project string

	// RepoPath is the full repository path including
	// the host ("github.com/rock-core/drivers").
	RepoPath string

	// Number is the pull request number.
	Number int
}

// BranchName builds the deterministic synchronized
// branch name for a pull request:
//
//	<namespace>/<project>/<host>/<repo path>/pulls/<number>
//
// The same inputs always produce the same name, which
// is how branches are recognized and reclaimed on
// later cycles.
func BranchName(
	namespace string,
	project string,
	pr *service.PullRequest,
) string {
	return fmt.Sprintf(
		"%s/%s/%s/pulls/%d",
		namespace, project, pr.FullPath(), pr.Number,
	)
}

// ParseBranchName parses a synchronized branch name
// back into its embedded identity. ok is false when
// the name does not match the grammar; such branches
// are treated as orphans. The repository path may have
// any depth of at least two segments (host plus at
// least one path element); the trailing number must be
// a plain integer.
func ParseBranchName(
	namespace string,
	name string,
) (Branch, bool) {
	segments := strings.Split(name, "/")

	// namespace, project, host, path..., "pulls", number
	if len(segments) < 6 {
		return Branch{}, false
	}

	if segments[0] != namespace {
		return Branch{}, false
	}

	if segments[len(segments)-2] != "pulls" {
		return Branch{}, false
	}

	number, err := strconv.Atoi(
		segments[len(segments)-1],
	)
	if err != nil || number <= 0 {
		return Branch{}, false
	}

	project := segments[1]
	repoPath := strings.Join(
		segments[2:len(segments)-2], "/",
	)

	if project == "" || repoPath == "" ||
		!strings.Contains(repoPath, "/") {
		return Branch{}, false
	}

	return Branch{
		Namespace: namespace,
		Project:   project,
		RepoPath:  repoPath,
		Number:    number,
	}, true
}

// InNamespace reports whether a branch name lives
// under the reserved namespace, whether or not it
// parses as a synchronized branch.
func InNamespace(namespace, name string) bool {
	return strings.HasPrefix(name, namespace+"/")
}
