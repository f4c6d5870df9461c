package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// listPageSize is the page size used for list calls.
const listPageSize = 100

// defaultMergeabilityTimeout bounds how long unknown
// mergeability is polled before giving up.
const defaultMergeabilityTimeout = 60 * time.Second

// mergeabilityPollInterval is the pause between polls
// of the single-PR endpoint.
const mergeabilityPollInterval = time.Second

// Config holds the settings needed to create a GitHub
// service adapter.
type Config struct {
	// Host is the hostname this adapter serves
	// (default "github.com").
	Host string

	// Endpoint overrides the API base URL. Leave
	// empty to derive it from Host (github.com or a
	// GitHub Enterprise "/api/v3/" base).
	Endpoint string

	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string

	// MergeabilityTimeout bounds the unknown
	// mergeability poll. Zero means the default.
	MergeabilityTimeout time.Duration

	// CommitStrategy selects merge vs head refs for
	// test branches.
	CommitStrategy service.CommitStrategy
}

// Service adapts the GitHub REST API to the daemon's
// provider abstraction.
//
// Pattern: Strategy -- implements service.Service.
type Service struct {
	client     *gh.Client
	host       string
	strategy   service.CommitStrategy
	timeout    time.Duration
	sleep      func(time.Duration)
	mergeCache map[mergeKey]bool
}

// mergeKey identifies one mergeability computation. A
// new head or base sha yields a new key, which is what
// invalidates stale cached answers.
type mergeKey struct {
	headSha string
	baseSha string
}

// NewService validates cfg and returns a Service ready
// to query GitHub.
func NewService(cfg Config) (*Service, error) {
	const errCtx = "creating github service"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "github.com"
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	switch {
	case cfg.Endpoint != "":
		baseURL, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: endpoint: %w", errCtx, err,
			)
		}

		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}

		client.BaseURL = baseURL
	case host != "github.com":
		baseURL := "https://" + host + "/api/v3/"
		uploadURL := "https://" + host +
			"/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	timeout := cfg.MergeabilityTimeout
	if timeout <= 0 {
		timeout = defaultMergeabilityTimeout
	}

	return &Service{
		client:     client,
		host:       host,
		strategy:   cfg.CommitStrategy,
		timeout:    timeout,
		sleep:      time.Sleep,
		mergeCache: make(map[mergeKey]bool),
	}, nil
}

// Host returns the hostname this adapter serves.
func (s *Service) Host() string {
	return s.host
}

// PullRequests lists the open pull requests of repo
// targeting baseBranch, following pagination.
func (s *Service) PullRequests(
	ctx context.Context,
	repo *giturl.URL,
	baseBranch string,
) ([]*service.PullRequest, error) {
	const errCtx = "listing github pull requests"

	owner, name, err := splitPath(repo)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	opts := &gh.PullRequestListOptions{
		State: "open",
		Base:  baseBranch,
		ListOptions: gh.ListOptions{
			PerPage: listPageSize,
		},
	}

	var result []*service.PullRequest

	for {
		page, resp, err := s.client.PullRequests.List(
			ctx, owner, name, opts,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, translate(err),
			)
		}

		for _, pr := range page {
			mapped, mapErr := mapPullRequest(repo, pr)
			if mapErr != nil {
				return nil, fmt.Errorf(
					"%s: %w", errCtx, mapErr,
				)
			}

			result = append(result, mapped)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return result, nil
}

// PullRequest fetches a single pull request. The
// detail endpoint is the only one that reports
// mergeability.
func (s *Service) PullRequest(
	ctx context.Context,
	repo *giturl.URL,
	number int,
) (*service.PullRequest, error) {
	const errCtx = "fetching github pull request"

	owner, name, err := splitPath(repo)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	pr, _, err := s.client.PullRequests.Get(
		ctx, owner, name, number,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, translate(err),
		)
	}

	mapped, err := mapPullRequest(repo, pr)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return mapped, nil
}

// Branches lists the branches of repo, following
// pagination.
func (s *Service) Branches(
	ctx context.Context,
	repo *giturl.URL,
) ([]*service.Branch, error) {
	const errCtx = "listing github branches"

	owner, name, err := splitPath(repo)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{
			PerPage: listPageSize,
		},
	}

	var result []*service.Branch

	for {
		page, resp, err := s.client.Repositories.ListBranches(
			ctx, owner, name, opts,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, translate(err),
			)
		}

		for _, br := range page {
			result = append(
				result, mapBranch(repo, br),
			)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return result, nil
}

// Branch fetches a single branch.
func (s *Service) Branch(
	ctx context.Context,
	repo *giturl.URL,
	name string,
) (*service.Branch, error) {
	const errCtx = "fetching github branch"

	owner, repoName, err := splitPath(repo)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	br, _, err := s.client.Repositories.GetBranch(
		ctx, owner, repoName, name, 2,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, translate(err),
		)
	}

	return mapBranch(repo, br), nil
}

// DeleteBranch removes a branch from repo.
func (s *Service) DeleteBranch(
	ctx context.Context,
	repo *giturl.URL,
	name string,
) error {
	const errCtx = "deleting github branch"

	owner, repoName, err := splitPath(repo)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	_, err = s.client.Git.DeleteRef(
		ctx, owner, repoName, "heads/"+name,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: %w", errCtx, translate(err),
		)
	}

	return nil
}

// RateLimit reports the remaining core API budget. The
// rate-limit endpoint itself does not count against it.
func (s *Service) RateLimit(
	ctx context.Context,
) (service.RateLimit, error) {
	const errCtx = "querying github rate limit"

	limits, _, err := s.client.RateLimit.Get(ctx)
	if err != nil {
		return service.RateLimit{}, fmt.Errorf(
			"%s: %w", errCtx, translate(err),
		)
	}

	core := limits.GetCore()
	if core == nil {
		return service.RateLimit{Remaining: 1}, nil
	}

	resetsIn := time.Until(core.Reset.Time)
	if resetsIn < 0 {
		resetsIn = 0
	}

	return service.RateLimit{
		Remaining: core.Remaining,
		ResetsIn:  resetsIn,
	}, nil
}

// translate converts go-github errors into the
// canonical taxonomy. Anything that is neither a
// transport failure, a rate limit, nor a 404 passes
// through untranslated.
func translate(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf(
			"%w: %w", service.ErrTooManyRequests, err,
		)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf(
			"%w: %w", service.ErrTooManyRequests, err,
		)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			switch respErr.Response.StatusCode {
			case 404:
				return fmt.Errorf(
					"%w: %w",
					service.ErrNotFound, err,
				)
			case 429:
				return fmt.Errorf(
					"%w: %w",
					service.ErrTooManyRequests, err,
				)
			}
		}

		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf(
			"%w: %w",
			service.ErrConnectionFailed, err,
		)
	}

	return err
}

// splitPath splits a repository path into owner and
// name. GitHub paths always have exactly two segments.
func splitPath(
	repo *giturl.URL,
) (string, string, error) {
	parts := strings.SplitN(repo.Path(), "/", 2)
	if len(parts) != 2 || parts[0] == "" ||
		parts[1] == "" ||
		strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf(
			"not an owner/repo path: %q", repo.Path(),
		)
	}

	return parts[0], parts[1], nil
}

// mapPullRequest builds the normalized facade from a
// raw go-github pull request.
func mapPullRequest(
	repo *giturl.URL,
	pr *gh.PullRequest,
) (*service.PullRequest, error) {
	const errCtx = "mapping github pull request"

	baseRepo := repo

	if u := pr.GetBase().GetRepo().GetHTMLURL(); u != "" {
		parsed, err := giturl.Parse(u)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base repo: %w", errCtx, err,
			)
		}

		baseRepo = parsed
	}

	headRepo := baseRepo

	if u := pr.GetHead().GetRepo().GetHTMLURL(); u != "" {
		parsed, err := giturl.Parse(u)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: head repo: %w", errCtx, err,
			)
		}

		headRepo = parsed
	}

	return &service.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		Author:     pr.GetUser().GetLogin(),
		State:      pr.GetState(),
		Draft:      pr.GetDraft(),
		BaseRepo:   baseRepo,
		BaseBranch: pr.GetBase().GetRef(),
		BaseSha:    pr.GetBase().GetSHA(),
		HeadRepo:   headRepo,
		HeadBranch: pr.GetHead().GetRef(),
		HeadSha:    pr.GetHead().GetSHA(),
		Mergeable:  pr.Mergeable,
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}, nil
}

// mapBranch builds the normalized facade from a raw
// go-github branch. List responses carry only name and
// sha; commit author details are present on single
// branch fetches.
func mapBranch(
	repo *giturl.URL,
	br *gh.Branch,
) *service.Branch {
	mapped := &service.Branch{
		Repo: repo,
		Name: br.GetName(),
		Sha:  br.GetCommit().GetSHA(),
	}

	commit := br.GetCommit().GetCommit()
	if commit != nil {
		author := commit.GetAuthor()
		mapped.CommitAuthor = author.GetName()
		mapped.CommitDate = author.GetDate().Time
	}

	return mapped
}
