package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// defaultRetryAttempts bounds how often a connection
// failure is retried before surfacing.
const defaultRetryAttempts = 5

// defaultRetryPause is the fixed pause between
// connection-failure retries.
const defaultRetryPause = time.Second

// Client routes provider calls to the Service owning a
// URL's host and wraps every call in rate-limit-aware
// retry logic. It is the single object the rest of the
// daemon talks to.
type Client struct {
	services map[string]service.Service

	retryAttempts int
	retryPause    time.Duration
	sleep         func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithRetryAttempts overrides the connection-failure
// retry bound.
func WithRetryAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
	}
}

// WithRetryPause overrides the pause between
// connection-failure retries.
func WithRetryPause(pause time.Duration) Option {
	return func(c *Client) {
		c.retryPause = pause
	}
}

// WithSleeper replaces the sleep function. Tests use
// this to observe waits instead of incurring them.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// New creates a Client routing to the given services,
// one per host.
func New(
	services []service.Service,
	opts ...Option,
) *Client {
	byHost := make(
		map[string]service.Service, len(services),
	)
	for _, svc := range services {
		byHost[svc.Host()] = svc
	}

	client := &Client{
		services:      byHost,
		retryAttempts: defaultRetryAttempts,
		retryPause:    defaultRetryPause,
		sleep:         time.Sleep,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Service returns the adapter owning the host of url.
func (c *Client) Service(
	url *giturl.URL,
) (service.Service, error) {
	svc, ok := c.services[url.Host()]
	if !ok {
		return nil, fmt.Errorf(
			"no service for host %q: %w",
			url.Host(), service.ErrUnsupportedService,
		)
	}

	return svc, nil
}

// PullRequests lists the open pull requests of repo
// targeting baseBranch.
func (c *Client) PullRequests(
	ctx context.Context,
	repo *giturl.URL,
	baseBranch string,
) ([]*service.PullRequest, error) {
	svc, err := c.Service(repo)
	if err != nil {
		return nil, err
	}

	var result []*service.PullRequest

	err = c.withRetry(ctx, svc, func() error {
		var callErr error

		result, callErr = svc.PullRequests(
			ctx, repo, baseBranch,
		)

		return callErr
	})

	return result, err
}

// PullRequest fetches a single pull request.
func (c *Client) PullRequest(
	ctx context.Context,
	repo *giturl.URL,
	number int,
) (*service.PullRequest, error) {
	svc, err := c.Service(repo)
	if err != nil {
		return nil, err
	}

	var result *service.PullRequest

	err = c.withRetry(ctx, svc, func() error {
		var callErr error

		result, callErr = svc.PullRequest(
			ctx, repo, number,
		)

		return callErr
	})

	return result, err
}

// Branches lists the branches of repo.
func (c *Client) Branches(
	ctx context.Context,
	repo *giturl.URL,
) ([]*service.Branch, error) {
	svc, err := c.Service(repo)
	if err != nil {
		return nil, err
	}

	var result []*service.Branch

	err = c.withRetry(ctx, svc, func() error {
		var callErr error

		result, callErr = svc.Branches(ctx, repo)

		return callErr
	})

	return result, err
}

// Branch fetches a single branch.
func (c *Client) Branch(
	ctx context.Context,
	repo *giturl.URL,
	name string,
) (*service.Branch, error) {
	svc, err := c.Service(repo)
	if err != nil {
		return nil, err
	}

	var result *service.Branch

	err = c.withRetry(ctx, svc, func() error {
		var callErr error

		result, callErr = svc.Branch(ctx, repo, name)

		return callErr
	})

	return result, err
}

// DeleteBranch removes a branch from repo.
func (c *Client) DeleteBranch(
	ctx context.Context,
	repo *giturl.URL,
	name string,
) error {
	svc, err := c.Service(repo)
	if err != nil {
		return err
	}

	return c.withRetry(ctx, svc, func() error {
		return svc.DeleteBranch(ctx, repo, name)
	})
}

// TestBranchName selects the upstream ref to build for
// pr through the service owning its base repository.
func (c *Client) TestBranchName(
	ctx context.Context,
	pr *service.PullRequest,
) (string, error) {
	svc, err := c.Service(pr.BaseRepo)
	if err != nil {
		return "", err
	}

	var result string

	err = c.withRetry(ctx, svc, func() error {
		var callErr error

		result, callErr = svc.TestBranchName(ctx, pr)

		return callErr
	})

	return result, err
}

// RateLimit reports the remaining request budget of the
// service owning url's host. Connection failures are
// retried like any other call, but the pre-call budget
// wait is skipped so an exhausted budget can still be
// observed.
func (c *Client) RateLimit(
	ctx context.Context,
	url *giturl.URL,
) (service.RateLimit, error) {
	svc, err := c.Service(url)
	if err != nil {
		return service.RateLimit{}, err
	}

	attempts := 0

	for {
		limit, err := svc.RateLimit(ctx)
		if err == nil {
			return limit, nil
		}

		if !errors.Is(
			err, service.ErrConnectionFailed,
		) || attempts >= c.retryAttempts {
			return service.RateLimit{}, err
		}

		attempts++

		slog.Warn(
			"connection failed, retrying",
			"attempt", attempts,
			"of", c.retryAttempts,
			"error", err,
		)
		c.sleep(c.retryPause)

		if ctx.Err() != nil {
			return service.RateLimit{}, ctx.Err()
		}
	}
}

// ResolveRef parses a dependency reference token with
// the grammar of the service owning base. ok is false
// when no service is configured for base's host or the
// token does not parse.
func (c *Client) ResolveRef(
	ref string,
	base *giturl.URL,
) (*giturl.URL, int, bool) {
	svc, err := c.Service(base)
	if err != nil {
		return nil, 0, false
	}

	return svc.ResolveRef(ref, base)
}

// withRetry wraps one provider call. Before each
// attempt the service's rate limit is checked and an
// exhausted budget is waited out. Connection failures
// are retried a bounded number of times with a fixed
// pause; rate-limit rejections are retried without
// counting, since the pre-call check is expected to
// have blocked for the correct duration and this path
// only covers races. Everything else surfaces.
func (c *Client) withRetry(
	ctx context.Context,
	svc service.Service,
	call func() error,
) error {
	attempts := 0

	for {
		c.waitForRateLimit(ctx, svc)

		err := call()
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, service.ErrConnectionFailed):
			attempts++
			if attempts > c.retryAttempts {
				return err
			}

			slog.Warn(
				"connection failed, retrying",
				"attempt", attempts,
				"of", c.retryAttempts,
				"error", err,
			)
			c.sleep(c.retryPause)
		case errors.Is(err, service.ErrTooManyRequests):
			slog.Warn(
				"rate limited, retrying",
				"host", svc.Host(),
			)
		default:
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// waitForRateLimit blocks until the service reports a
// non-exhausted budget. The extra second absorbs clock
// skew between the daemon and the provider.
func (c *Client) waitForRateLimit(
	ctx context.Context,
	svc service.Service,
) {
	limit, err := svc.RateLimit(ctx)
	if err != nil {
		// Budget unknown; proceed and let the call
		// itself report a rejection.
		return
	}

	if !limit.Exhausted() {
		return
	}

	wait := limit.ResetsIn + time.Second

	slog.Info(
		"rate limit exhausted, waiting",
		"host", svc.Host(),
		"wait", wait,
	)
	c.sleep(wait)
}
