// Package giturl normalizes heterogeneous git remote URL spellings into
// a comparable (host, path) identity.
//
// The same repository can be addressed as "git@github.com:owner/repo.git",
// "https://github.com/owner/repo", or "ssh://git@github.com/owner/repo";
// Parse reduces all of them to one canonical form so the rest of the
// daemon can match repositories by identity instead of by string.
package giturl
