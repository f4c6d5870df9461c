// Package gitlab adapts the GitLab REST API (v4) to the daemon's
// service abstraction using gitlab-org/api/client-go.
//
// The adapter owns the GitLab dependency-reference grammar
// ("full/path!N", "!N", absolute merge request URLs) and maps the
// detailed merge status onto the daemon's mergeability tri-state.
// Rate-limit state is read from the RateLimit-* headers that ride
// along on every response, since GitLab has no dedicated endpoint.
package gitlab
