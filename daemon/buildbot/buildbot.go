// Package buildbot notifies a build master that a
// synchronized branch changed, by posting a change
// description to its HTTP change hook.
package buildbot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
)

const triggerRetryMax = 3

// Change describes a revision the build master should
// pick up.
type Change struct {
	// Author is the login that caused the change.
	Author string `json:"author"`

	// Branch is the buildconf branch to build.
	Branch string `json:"branch"`

	// Revision is the commit to build.
	Revision string `json:"revision"`

	// Repository is the repository the revision
	// belongs to.
	Repository string `json:"repository"`

	// When is the change timestamp in Unix seconds.
	When int64 `json:"when_timestamp"`

	// Properties carries extra build properties.
	Properties map[string]string `json:"properties,omitempty"`
}

// Config holds the settings needed to create a
// Trigger.
type Config struct {
	// URL is the change-hook endpoint
	// (e.g. "http://bb.example.com/change_hook/base").
	URL string
}

// Trigger posts change descriptions to a build master.
// Transient HTTP failures are retried with backoff.
// It implements the poller's Builder collaborator.
type Trigger struct {
	url    string
	client *retryablehttp.Client
}

// NewTrigger validates cfg and returns a Trigger.
func NewTrigger(cfg Config) (*Trigger, error) {
	const errCtx = "creating buildbot trigger"

	if cfg.URL == "" {
		return nil, fmt.Errorf(
			"%s: url must be set", errCtx,
		)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = triggerRetryMax
	client.RetryWaitMin = time.Second
	client.Logger = nil

	return &Trigger{
		url:    cfg.URL,
		client: client,
	}, nil
}

// Build posts the change description and returns an
// error unless the master acknowledged it.
func (t *Trigger) Build(
	ctx context.Context,
	change Change,
) error {
	const errCtx = "triggering build"

	if change.When == 0 {
		change.When = time.Now().Unix()
	}

	payload, err := json.Marshal(&change)
	if err != nil {
		return fmt.Errorf(
			"%s: marshal change: %w", errCtx, err,
		)
	}

	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodPost,
		t.url,
		bytes.NewBuffer(payload),
	)
	if err != nil {
		return fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf(
			"%s: send request: %w", errCtx, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn(
			"cannot read response body",
			"error", err,
		)
	}

	if resp.StatusCode < http.StatusOK ||
		resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf(
			"%s: unexpected status %d: %s",
			errCtx, resp.StatusCode, string(rb),
		)
	}

	slog.Info(
		"build triggered",
		"branch", change.Branch,
		"revision", change.Revision,
	)

	return nil
}
