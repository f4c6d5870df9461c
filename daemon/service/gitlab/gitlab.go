package gitlab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// listPageSize is the page size used for list calls.
const listPageSize = 100

// Config holds the settings needed to create a GitLab
// service adapter.
type Config struct {
	// Host is the hostname this adapter serves
	// (default "gitlab.com").
	Host string

	// Endpoint overrides the API base URL. Leave
	// empty to derive "https://<host>" from Host.
	Endpoint string

	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string

	// CommitStrategy selects merge vs head refs for
	// test branches.
	CommitStrategy service.CommitStrategy
}

// Service adapts the GitLab REST API (v4) to the
// daemon's provider abstraction.
//
// Pattern: Strategy -- implements service.Service.
type Service struct {
	client   *gl.Client
	host     string
	strategy service.CommitStrategy

	// lastLimit holds the budget observed on the most
	// recent API response. GitLab has no dedicated
	// rate-limit endpoint; the headers ride along on
	// every call.
	lastLimit service.RateLimit
	observed  bool
}

// NewService validates cfg and returns a Service ready
// to query GitLab.
func NewService(cfg Config) (*Service, error) {
	const errCtx = "creating gitlab service"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "gitlab.com"
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://" + host
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Service{
		client:   client,
		host:     host,
		strategy: cfg.CommitStrategy,
	}, nil
}

// Host returns the hostname this adapter serves.
func (s *Service) Host() string {
	return s.host
}

// PullRequests lists the opened merge requests of repo
// targeting baseBranch, following pagination.
func (s *Service) PullRequests(
	ctx context.Context,
	repo *giturl.URL,
	baseBranch string,
) ([]*service.PullRequest, error) {
	const errCtx = "listing gitlab merge requests"

	opts := &gl.ListProjectMergeRequestsOptions{
		State:        gl.Ptr("opened"),
		TargetBranch: gl.Ptr(baseBranch),
		ListOptions: gl.ListOptions{
			PerPage: listPageSize,
		},
	}

	var result []*service.PullRequest

	for {
		page, resp, err := s.client.MergeRequests.ListProjectMergeRequests(
			repo.Path(), opts,
			gl.WithContext(ctx),
		)

		s.observe(resp)

		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w",
				errCtx, translate(err, resp),
			)
		}

		for _, mr := range page {
			result = append(
				result, s.mapMergeRequest(repo, mr),
			)
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return result, nil
}

// PullRequest fetches a single merge request.
func (s *Service) PullRequest(
	ctx context.Context,
	repo *giturl.URL,
	number int,
) (*service.PullRequest, error) {
	const errCtx = "fetching gitlab merge request"

	mr, resp, err := s.client.MergeRequests.GetMergeRequest(
		repo.Path(), int64(number), nil,
		gl.WithContext(ctx),
	)

	s.observe(resp)

	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, translate(err, resp),
		)
	}

	return s.mapMergeRequest(repo, &mr.BasicMergeRequest), nil
}

// Branches lists the branches of repo, following
// pagination.
func (s *Service) Branches(
	ctx context.Context,
	repo *giturl.URL,
) ([]*service.Branch, error) {
	const errCtx = "listing gitlab branches"

	opts := &gl.ListBranchesOptions{
		ListOptions: gl.ListOptions{
			PerPage: listPageSize,
		},
	}

	var result []*service.Branch

	for {
		page, resp, err := s.client.Branches.ListBranches(
			repo.Path(), opts,
			gl.WithContext(ctx),
		)

		s.observe(resp)

		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w",
				errCtx, translate(err, resp),
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
	const errCtx = "fetching gitlab branch"

	br, resp, err := s.client.Branches.GetBranch(
		repo.Path(), name,
		gl.WithContext(ctx),
	)

	s.observe(resp)

	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, translate(err, resp),
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
	const errCtx = "deleting gitlab branch"

	resp, err := s.client.Branches.DeleteBranch(
		repo.Path(), name,
		gl.WithContext(ctx),
	)

	s.observe(resp)

	if err != nil {
		return fmt.Errorf(
			"%s: %w", errCtx, translate(err, resp),
		)
	}

	return nil
}

// RateLimit reports the budget observed on the most
// recent API response. Before any call has been made
// the budget is assumed unlimited.
func (s *Service) RateLimit(
	context.Context,
) (service.RateLimit, error) {
	if !s.observed {
		return service.RateLimit{
			Remaining: math.MaxInt32,
		}, nil
	}

	return s.lastLimit, nil
}

// observe records the RateLimit-* headers of an API
// response.
func (s *Service) observe(resp *gl.Response) {
	if resp == nil || resp.Response == nil {
		return
	}

	remaining := resp.Header.Get("RateLimit-Remaining")
	if remaining == "" {
		return
	}

	parsed, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	limit := service.RateLimit{Remaining: parsed}

	if reset := resp.Header.Get("RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(
			reset, 10, 64,
		); err == nil {
			resetsIn := time.Until(time.Unix(ts, 0))
			if resetsIn > 0 {
				limit.ResetsIn = resetsIn
			}
		}
	}

	s.lastLimit = limit
	s.observed = true
}

// translate converts client-go errors into the
// canonical taxonomy using the HTTP response when one
// exists. Transport failures have no response.
func translate(err error, resp *gl.Response) error {
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf(
				"%w: %w", service.ErrNotFound, err,
			)
		case http.StatusTooManyRequests:
			return fmt.Errorf(
				"%w: %w",
				service.ErrTooManyRequests, err,
			)
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

// mapMergeRequest builds the normalized facade from a
// raw merge request. GitLab reports mergeability as a
// detailed status string; anything still being
// computed maps to the unknown tri-state.
func (s *Service) mapMergeRequest(
	repo *giturl.URL,
	mr *gl.BasicMergeRequest,
) *service.PullRequest {
	state := service.StateClosed
	if mr.State == "opened" {
		state = service.StateOpen
	}

	author := ""
	if mr.Author != nil {
		author = mr.Author.Username
	}

	updatedAt := time.Time{}
	if mr.UpdatedAt != nil {
		updatedAt = *mr.UpdatedAt
	}

	return &service.PullRequest{
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		Author:     author,
		State:      state,
		Draft:      mr.Draft,
		BaseRepo:   repo,
		BaseBranch: mr.TargetBranch,
		HeadRepo:   repo,
		HeadBranch: mr.SourceBranch,
		HeadSha:    mr.SHA,
		Mergeable:  mapMergeStatus(mr.DetailedMergeStatus),
		UpdatedAt:  updatedAt,
	}
}

// mapMergeStatus reduces GitLab's detailed merge
// status to the tri-state the daemon works with.
func mapMergeStatus(status string) *bool {
	switch status {
	case "mergeable":
		return gl.Ptr(true)
	case "", "unchecked", "checking", "preparing":
		return nil
	default:
		return gl.Ptr(false)
	}
}

// mapBranch builds the normalized facade from a raw
// branch.
func mapBranch(
	repo *giturl.URL,
	br *gl.Branch,
) *service.Branch {
	mapped := &service.Branch{
		Repo: repo,
		Name: br.Name,
	}

	if br.Commit != nil {
		mapped.Sha = br.Commit.ID
		mapped.CommitAuthor = br.Commit.AuthorName

		if br.Commit.AuthoredDate != nil {
			mapped.CommitDate = *br.Commit.AuthoredDate
		}
	}

	return mapped
}
