// Package buildconf manages the build configuration
// repository: the branch naming scheme that maps pull
// requests to synchronized branches, and the git-backed
// writer that commits override files and force-pushes
// those branches.
package buildconf
