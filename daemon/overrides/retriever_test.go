package overrides_test

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/overrides"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

func TestParseTaskList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "unchecked only",
			body: "Depends on:\n- [ ] a\n- [x] b\n- [ ] c\n",
			want: []string{"a", "c"},
		},
		{
			name: "stops at first non list line",
			body: "Depends on:\n- [ ] a\n\nTODO:\n- [ ] unrelated\n",
			want: []string{"a"},
		},
		{
			name: "case insensitive marker",
			body: "depends ON:\n- [ ] one#1\n",
			want: []string{"one#1"},
		},
		{
			name: "no marker",
			body: "Just a description.\n- [ ] not a dependency\n",
			want: nil,
		},
		{
			name: "marker with no list",
			body: "Depends on:\nnothing here\n",
			want: nil,
		},
		{
			name: "star items and extra text",
			body: "Intro text.\n\nDepends on:\n* [ ] rock-core/tools#2 handles the API\n* [X] rock-core/tools#3\n",
			want: []string{"rock-core/tools#2"},
		},
		{
			name: "plain list items are kept in block but not extracted",
			body: "Depends on:\n- see below\n- [ ] a\n",
			want: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := overrides.ParseTaskList(tt.body)
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeSource resolves "owner/repo#N" references against
// an in-memory PR set.
type fakeSource struct {
	prs     map[string]*service.PullRequest
	fetched int
}

var refPattern = regexp.MustCompile(
	`^([\w.-]+/[\w.-]+)#(\d+)$`,
)

func (f *fakeSource) ResolveRef(
	ref string,
	_ *giturl.URL,
) (*giturl.URL, int, bool) {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil {
		return nil, 0, false
	}

	number, _ := strconv.Atoi(m[2])

	return giturl.MustParse(
		"https://github.com/" + m[1],
	), number, true
}

func (f *fakeSource) PullRequest(
	_ context.Context,
	repo *giturl.URL,
	number int,
) (*service.PullRequest, error) {
	f.fetched++

	key := fmt.Sprintf("%s#%d", repo.Key(), number)
	if pr, ok := f.prs[key]; ok {
		return pr, nil
	}

	return nil, service.ErrNotFound
}

// makePR builds an open PR on github.com/<path> with
// the given body.
func makePR(
	path string,
	number int,
	body string,
) *service.PullRequest {
	return &service.PullRequest{
		Number: number,
		Body:   body,
		State:  service.StateOpen,
		BaseRepo: giturl.MustParse(
			"https://github.com/" + path,
		),
		BaseBranch: "master",
	}
}

func newSource(
	prs ...*service.PullRequest,
) *fakeSource {
	byKey := make(map[string]*service.PullRequest)
	for _, pr := range prs {
		byKey[pr.Key()] = pr
	}

	return &fakeSource{prs: byKey}
}

func TestDependencies_linearChain(t *testing.T) {
	t.Parallel()

	root := makePR(
		"rock/a", 1,
		"Depends on:\n- [ ] rock/b#2\n",
	)
	depB := makePR(
		"rock/b", 2,
		"Depends on:\n- [ ] rock/c#3\n",
	)
	depC := makePR("rock/c", 3, "no deps")

	source := newSource(root, depB, depC)
	retriever := overrides.NewRetriever(
		source,
		[]*service.PullRequest{root, depB, depC},
	)

	deps, err := retriever.Dependencies(
		t.Context(), root,
	)
	require.NoError(t, err)

	require.Len(t, deps, 2)
	assert.True(t, deps[0].Same(depB))
	assert.True(t, deps[1].Same(depC))
	assert.Equal(t, deps, root.Dependencies)

	// All three were known: no extra fetches.
	assert.Zero(t, source.fetched)
}

func TestDependencies_cycleTerminates(t *testing.T) {
	t.Parallel()

	prA := makePR(
		"rock/a", 1,
		"Depends on:\n- [ ] rock/b#2\n",
	)
	prB := makePR(
		"rock/b", 2,
		"Depends on:\n- [ ] rock/a#1\n",
	)

	retriever := overrides.NewRetriever(
		newSource(prA, prB),
		[]*service.PullRequest{prA, prB},
	)

	deps, err := retriever.Dependencies(
		t.Context(), prA,
	)
	require.NoError(t, err)

	// Each distinct PR exactly once, root excluded.
	require.Len(t, deps, 1)
	assert.True(t, deps[0].Same(prB))
}

func TestDependencies_diamondResolvedOnce(t *testing.T) {
	t.Parallel()

	prA := makePR(
		"rock/a", 1,
		"Depends on:\n- [ ] rock/b#2\n- [ ] rock/c#3\n",
	)
	prB := makePR(
		"rock/b", 2,
		"Depends on:\n- [ ] rock/d#4\n",
	)
	prC := makePR(
		"rock/c", 3,
		"Depends on:\n- [ ] rock/d#4\n",
	)
	prD := makePR("rock/d", 4, "")

	retriever := overrides.NewRetriever(
		newSource(prA, prB, prC, prD),
		[]*service.PullRequest{prA, prB, prC, prD},
	)

	deps, err := retriever.Dependencies(
		t.Context(), prA,
	)
	require.NoError(t, err)

	require.Len(t, deps, 3)
	assert.True(t, deps[0].Same(prB))
	assert.True(t, deps[1].Same(prD))
	assert.True(t, deps[2].Same(prC))
}

func TestDependencies_fetchesUnknown(t *testing.T) {
	t.Parallel()

	root := makePR(
		"rock/a", 1,
		"Depends on:\n- [ ] rock/b#2\n",
	)
	depB := makePR("rock/b", 2, "")

	source := newSource(root, depB)

	// Only the root is known this cycle; the
	// dependency must be fetched.
	retriever := overrides.NewRetriever(
		source, []*service.PullRequest{root},
	)

	deps, err := retriever.Dependencies(
		t.Context(), root,
	)
	require.NoError(t, err)

	require.Len(t, deps, 1)
	assert.Equal(t, 1, source.fetched)
}

func TestTaskToPullRequest_unresolvable(t *testing.T) {
	t.Parallel()

	root := makePR(
		"rock/a", 1,
		"Depends on:\n- [ ] rock/gone#9\n- [ ] not a ref\n",
	)

	retriever := overrides.NewRetriever(
		newSource(root),
		[]*service.PullRequest{root},
	)

	// Dangling and unparseable references contribute
	// nothing, without failing the expansion.
	deps, err := retriever.Dependencies(
		t.Context(), root,
	)
	require.NoError(t, err)
	assert.Empty(t, deps)
}
