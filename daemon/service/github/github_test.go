package github_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
	ghsvc "github.com/rock-core/autoproj-daemon-sub000/daemon/service/github"
)

func TestNewService_valid(t *testing.T) {
	t.Parallel()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken: "tok",
	})

	require.NoError(t, err)
	assert.Equal(t, "github.com", svc.Host())
}

func TestNewService_missing_token(t *testing.T) {
	t.Parallel()

	svc, err := ghsvc.NewService(ghsvc.Config{})

	assert.Nil(t, svc)
	assert.ErrorContains(t, err, "access token")
}

func TestNewService_enterprise(t *testing.T) {
	t.Parallel()

	svc, err := ghsvc.NewService(ghsvc.Config{
		Host:        "git.corp.example.com",
		AccessToken: "tok",
	})

	require.NoError(t, err)
	assert.Equal(t, "git.corp.example.com", svc.Host())
}

func TestResolveRef(t *testing.T) {
	t.Parallel()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken: "tok",
	})
	require.NoError(t, err)

	base := giturl.MustParse(
		"git@github.com:rock-core/buildconf.git",
	)

	tests := []struct {
		name       string
		ref        string
		wantKey    string
		wantNumber int
		wantOK     bool
	}{
		{
			name:       "absolute url",
			ref:        "https://github.com/rock-core/drivers/pull/12",
			wantKey:    "github.com/rock-core/drivers",
			wantNumber: 12,
			wantOK:     true,
		},
		{
			name:       "owner repo hash",
			ref:        "rock-core/tools#7",
			wantKey:    "github.com/rock-core/tools",
			wantNumber: 7,
			wantOK:     true,
		},
		{
			name:       "bare hash",
			ref:        "#3",
			wantKey:    "github.com/rock-core/buildconf",
			wantNumber: 3,
			wantOK:     true,
		},
		{
			name:   "gitlab style bang",
			ref:    "rock-core/tools!7",
			wantOK: false,
		},
		{
			name:   "free text",
			ref:    "update the docs",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo, number, ok := svc.ResolveRef(tt.ref, base)
			assert.Equal(t, tt.wantOK, ok)

			if !tt.wantOK {
				return
			}

			assert.Equal(t, tt.wantKey, repo.Key())
			assert.Equal(t, tt.wantNumber, number)
		})
	}
}

func TestTestBranchName_strategies(t *testing.T) {
	t.Parallel()

	mergeable := true
	notMergeable := false

	tests := []struct {
		name     string
		strategy service.CommitStrategy
		pr       *service.PullRequest
		want     string
	}{
		{
			name:     "forced merge",
			strategy: service.CommitStrategyMerge,
			pr:       &service.PullRequest{Number: 5, Draft: true},
			want:     "refs/pull/5/merge",
		},
		{
			name:     "forced head",
			strategy: service.CommitStrategyHead,
			pr:       &service.PullRequest{Number: 5, Mergeable: &mergeable},
			want:     "refs/pull/5/head",
		},
		{
			name:     "default mergeable",
			strategy: service.CommitStrategyDefault,
			pr:       &service.PullRequest{Number: 5, Mergeable: &mergeable},
			want:     "refs/pull/5/merge",
		},
		{
			name:     "default draft",
			strategy: service.CommitStrategyDefault,
			pr: &service.PullRequest{
				Number:    5,
				Draft:     true,
				Mergeable: &mergeable,
			},
			want: "refs/pull/5/head",
		},
		{
			name:     "default not mergeable",
			strategy: service.CommitStrategyDefault,
			pr: &service.PullRequest{
				Number:    5,
				Mergeable: &notMergeable,
			},
			want: "refs/pull/5/head",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, err := ghsvc.NewService(ghsvc.Config{
				AccessToken:    "tok",
				CommitStrategy: tt.strategy,
			})
			require.NoError(t, err)

			got, err := svc.TestBranchName(
				t.Context(), tt.pr,
			)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTestBranchName_resolvesMergeability(t *testing.T) {
	t.Parallel()

	// The detail endpoint reports mergeable only on the
	// second poll.
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc(
		"/repos/rock-core/drivers/pulls/9",
		func(w http.ResponseWriter, _ *http.Request) {
			calls++

			mergeable := "null"
			if calls > 1 {
				mergeable = "true"
			}

			fmt.Fprintf(w, `{
				"number": 9,
				"state": "open",
				"mergeable": %s,
				"base": {"ref": "master", "sha": "b1"},
				"head": {"ref": "feature", "sha": "h1"}
			}`, mergeable)
		},
	)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken:         "tok",
		Endpoint:            srv.URL,
		MergeabilityTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	var slept []time.Duration

	svc.SetSleep(func(d time.Duration) {
		slept = append(slept, d)
	})

	pr := &service.PullRequest{
		Number: 9,
		BaseRepo: giturl.MustParse(
			"git@github.com:rock-core/drivers.git",
		),
		BaseSha: "b1",
		HeadSha: "h1",
	}

	got, err := svc.TestBranchName(t.Context(), pr)
	require.NoError(t, err)

	assert.Equal(t, "refs/pull/9/merge", got)
	assert.Equal(t, 2, calls)
	assert.Len(t, slept, 1)

	// The resolved answer stays local to the adapter.
	assert.Nil(t, pr.Mergeable)

	// The answer is cached: no further polls.
	got, err = svc.TestBranchName(t.Context(), pr)
	require.NoError(t, err)

	assert.Equal(t, "refs/pull/9/merge", got)
	assert.Equal(t, 2, calls)
}

func TestTestBranchName_mergeabilityTimeout(t *testing.T) {
	t.Parallel()

	// The detail endpoint never reports a definite
	// answer.
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc(
		"/repos/rock-core/drivers/pulls/9",
		func(w http.ResponseWriter, _ *http.Request) {
			calls++

			fmt.Fprint(w, `{
				"number": 9,
				"state": "open",
				"mergeable": null,
				"base": {"ref": "master", "sha": "b1"},
				"head": {"ref": "feature", "sha": "h1"}
			}`)
		},
	)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken:         "tok",
		Endpoint:            srv.URL,
		MergeabilityTimeout: time.Nanosecond,
	})
	require.NoError(t, err)

	var slept []time.Duration

	svc.SetSleep(func(d time.Duration) {
		slept = append(slept, d)
	})

	pr := &service.PullRequest{
		Number: 9,
		BaseRepo: giturl.MustParse(
			"git@github.com:rock-core/drivers.git",
		),
		BaseSha: "b1",
		HeadSha: "h1",
	}

	got, err := svc.TestBranchName(t.Context(), pr)
	require.NoError(t, err)

	// Unknown after the deadline: fall back to the head
	// ref without sleeping past it or writing to pr.
	assert.Equal(t, "refs/pull/9/head", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
	assert.Nil(t, pr.Mergeable)

	// A timed-out answer is not cached; the next call
	// polls again.
	_, err = svc.TestBranchName(t.Context(), pr)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPullRequests_list(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"/repos/rock-core/drivers/pulls",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(
				t, "open", r.URL.Query().Get("state"),
			)
			assert.Equal(
				t, "master", r.URL.Query().Get("base"),
			)

			fmt.Fprint(w, `[{
				"number": 4,
				"title": "Add driver",
				"state": "open",
				"draft": false,
				"body": "Depends on: #3",
				"user": {"login": "g-arjones"},
				"updated_at": "2024-05-01T10:00:00Z",
				"base": {
					"ref": "master",
					"sha": "b1",
					"repo": {"html_url": "https://github.com/rock-core/drivers"}
				},
				"head": {
					"ref": "add_driver",
					"sha": "h1",
					"repo": {"html_url": "https://github.com/contributor/drivers"}
				}
			}]`)
		},
	)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken: "tok",
		Endpoint:    srv.URL,
	})
	require.NoError(t, err)

	repo := giturl.MustParse(
		"git@github.com:rock-core/drivers.git",
	)

	prs, err := svc.PullRequests(
		t.Context(), repo, "master",
	)
	require.NoError(t, err)
	require.Len(t, prs, 1)

	pr := prs[0]
	assert.Equal(t, 4, pr.Number)
	assert.Equal(t, "g-arjones", pr.Author)
	assert.True(t, pr.Open())
	assert.Equal(t, "master", pr.BaseBranch)
	assert.Equal(t, "h1", pr.HeadSha)
	assert.Nil(t, pr.Mergeable)
	assert.Equal(
		t,
		"github.com/contributor/drivers",
		pr.HeadRepo.Key(),
	)
}

func TestPullRequest_notFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
		},
	))
	defer srv.Close()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken: "tok",
		Endpoint:    srv.URL,
	})
	require.NoError(t, err)

	repo := giturl.MustParse(
		"git@github.com:rock-core/drivers.git",
	)

	pr, err := svc.PullRequest(t.Context(), repo, 999)
	assert.Nil(t, pr)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestTranslate_connectionFailed(t *testing.T) {
	t.Parallel()

	// A server that closes without responding yields a
	// transport-level url.Error.
	srv := httptest.NewServer(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) {},
	))
	srv.Close()

	svc, err := ghsvc.NewService(ghsvc.Config{
		AccessToken: "tok",
		Endpoint:    srv.URL,
	})
	require.NoError(t, err)

	repo := giturl.MustParse(
		"git@github.com:rock-core/drivers.git",
	)

	_, err = svc.Branches(t.Context(), repo)
	assert.ErrorIs(t, err, service.ErrConnectionFailed)
}
