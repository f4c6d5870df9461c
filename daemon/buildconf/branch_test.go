package buildconf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/buildconf"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/giturl"
	"github.com/rock-core/autoproj-daemon-sub000/daemon/service"
)

func TestBranchName(t *testing.T) {
	t.Parallel()

	pr := &service.PullRequest{
		Number: 22,
		BaseRepo: giturl.MustParse(
			"git@github.com:Rock-CORE/drivers-iodrivers_base.git",
		),
	}

	name := buildconf.BranchName(
		buildconf.DefaultNamespace, "flat_fish", pr,
	)

	assert.Equal(
		t,
		"autoproj/flat_fish/github.com/"+
			"rock-core/drivers-iodrivers_base/pulls/22",
		name,
	)
}

func TestParseBranchName_roundTrip(t *testing.T) {
	t.Parallel()

	pr := &service.PullRequest{
		Number: 77,
		BaseRepo: giturl.MustParse(
			"https://gitlab.example.com/rock/drivers/iodrivers_base",
		),
	}

	name := buildconf.BranchName(
		buildconf.DefaultNamespace, "demo", pr,
	)

	parsed, ok := buildconf.ParseBranchName(
		buildconf.DefaultNamespace, name,
	)
	require.True(t, ok)

	assert.Equal(
		t,
		buildconf.Branch{
			Namespace: "autoproj",
			Project:   "demo",
			RepoPath: "gitlab.example.com/rock/" +
				"drivers/iodrivers_base",
			Number: 77,
		},
		parsed,
	)
}

func TestParseBranchName_rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		branch string
	}{
		{
			name:   "empty",
			branch: "",
		},
		{
			name:   "mainline",
			branch: "master",
		},
		{
			name:   "wrong namespace",
			branch: "feature/demo/github.com/o/r/pulls/1",
		},
		{
			name:   "too few segments",
			branch: "autoproj/demo/github.com/pulls/1",
		},
		{
			name:   "missing pulls marker",
			branch: "autoproj/demo/github.com/o/r/mrs/1",
		},
		{
			name:   "float number",
			branch: "autoproj/demo/github.com/o/r/pulls/1.5",
		},
		{
			name:   "negative number",
			branch: "autoproj/demo/github.com/o/r/pulls/-2",
		},
		{
			name:   "zero number",
			branch: "autoproj/demo/github.com/o/r/pulls/0",
		},
		{
			name:   "non numeric number",
			branch: "autoproj/demo/github.com/o/r/pulls/abc",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, ok := buildconf.ParseBranchName(
				buildconf.DefaultNamespace, tc.branch,
			)
			assert.False(t, ok)
		})
	}
}

func TestInNamespace(t *testing.T) {
	t.Parallel()

	assert.True(t, buildconf.InNamespace(
		"autoproj", "autoproj/garbage",
	))
	assert.True(t, buildconf.InNamespace(
		"autoproj",
		"autoproj/demo/github.com/o/r/pulls/3",
	))
	assert.False(t, buildconf.InNamespace(
		"autoproj", "autoproj",
	))
	assert.False(t, buildconf.InNamespace(
		"autoproj", "master",
	))
	assert.False(t, buildconf.InNamespace(
		"autoproj", "autoproj2/x",
	))
}
