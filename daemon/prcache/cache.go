package prcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/overrides"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

// Entry is the snapshot of one pull request taken when
// its overrides were last computed. It carries exactly
// the fields identity matching and change detection
// need.
type Entry struct {
	// Host is the canonical host of the base
	// repository.
	Host string `yaml:"host"`

	// Path is the canonical path of the base
	// repository.
	Path string `yaml:"path"`

	// Number is the pull request number.
	Number int `yaml:"number"`

	// BaseBranch is the branch the pull request
	// targeted when last synchronized.
	BaseBranch string `yaml:"base_branch"`

	// HeadSha is the tip commit last synchronized.
	HeadSha string `yaml:"head_sha"`

	// Overrides is the manifest last committed for
	// this pull request.
	Overrides overrides.Manifest `yaml:"overrides"`
}

// key returns the identity key of the entry, matching
// service.PullRequest.Key.
func (e Entry) key() string {
	return fmt.Sprintf(
		"%s/%s#%d",
		e.Host, strings.ToLower(e.Path), e.Number,
	)
}

// Cache is the persisted mapping from pull request
// identity to last-synchronized state. It is the only
// durable state the reconciliation engine owns: read
// once at cycle start, rewritten once at cycle end.
type Cache struct {
	path    string
	entries map[string]Entry
}

// Load reads the cache file at path. A missing file
// yields an empty cache.
func Load(path string) (*Cache, error) {
	const errCtx = "loading pull request cache"

	cache := &Cache{
		path:    path,
		entries: make(map[string]Entry),
	}

	raw, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cache, nil
		}

		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var entries []Entry

	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf(
			"%s: parse %s: %w", errCtx, path, err,
		)
	}

	for _, entry := range entries {
		cache.entries[entry.key()] = entry
	}

	return cache, nil
}

// Add upserts the snapshot for a pull request,
// overwriting any previous entry for the same
// identity. This is the only mutation path.
func (c *Cache) Add(
	pr *service.PullRequest,
	manifest overrides.Manifest,
) {
	entry := Entry{
		Host:       pr.BaseRepo.Host(),
		Path:       pr.BaseRepo.Path(),
		Number:     pr.Number,
		BaseBranch: pr.BaseBranch,
		HeadSha:    pr.HeadSha,
		Overrides:  manifest,
	}

	c.entries[pr.Key()] = entry
}

// Cached returns the snapshot for a pull request's
// identity, if one exists.
func (c *Cache) Cached(
	pr *service.PullRequest,
) (Entry, bool) {
	entry, ok := c.entries[pr.Key()]

	return entry, ok
}

// Changed reports whether a resync is needed: true for
// a pull request never seen before, or when its head
// sha, base branch, or override manifest differs from
// the cached snapshot.
func (c *Cache) Changed(
	pr *service.PullRequest,
	manifest overrides.Manifest,
) bool {
	entry, ok := c.entries[pr.Key()]
	if !ok {
		return true
	}

	return entry.HeadSha != pr.HeadSha ||
		entry.BaseBranch != pr.BaseBranch ||
		!entry.Overrides.Equal(manifest)
}

// Evict removes entries whose identity matches none of
// the kept pull requests. Returns the number of evicted
// entries.
func (c *Cache) Evict(
	keep []*service.PullRequest,
) int {
	kept := make(map[string]bool, len(keep))
	for _, pr := range keep {
		kept[pr.Key()] = true
	}

	evicted := 0

	for key := range c.entries {
		if !kept[key] {
			delete(c.entries, key)

			evicted++
		}
	}

	return evicted
}

// Clear drops every entry. Used when the override
// scheme itself may have changed.
func (c *Cache) Clear() {
	c.entries = make(map[string]Entry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Dump writes the cache back to its file as a flat
// list sorted by identity, so consecutive dumps of the
// same state are byte-identical.
func (c *Cache) Dump() error {
	const errCtx = "dumping pull request cache"

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key() < entries[j].key()
	})

	raw, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf(
			"%s: create %s: %w", errCtx, dir, err,
		)
	}

	if err := os.WriteFile(
		c.path, raw, 0o644,
	); err != nil { //nolint:gosec // cache is not secret
		return fmt.Errorf(
			"%s: write %s: %w", errCtx, c.path, err,
		)
	}

	return nil
}
