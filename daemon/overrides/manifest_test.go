package overrides_test

import (
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rock-core/autoproj-daemon-sub000/daemon/overrides"
)

func TestManifest_yamlShape(t *testing.T) {
	t.Parallel()

	manifest := overrides.Manifest{
		{
			Package:      "drivers/iodrivers_base",
			RemoteBranch: "refs/pull/12/merge",
		},
		{
			Package:      "base/types",
			RemoteBranch: "refs/pull/7/head",
		},
	}

	raw, err := yaml.Marshal(manifest)
	require.NoError(t, err)

	// A sequence of single-key maps, one override per
	// entry.
	var decoded []map[string]map[string]string

	require.NoError(t, yaml.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(
		t,
		"refs/pull/12/merge",
		decoded[0]["drivers/iodrivers_base"]["remote_branch"],
	)
	assert.Equal(
		t,
		"refs/pull/7/head",
		decoded[1]["base/types"]["remote_branch"],
	)
}

func TestManifest_roundTrip(t *testing.T) {
	t.Parallel()

	manifest := overrides.Manifest{
		{
			Package:      "tools/syskit",
			RemoteBranch: "refs/merge-requests/3/head",
		},
	}

	raw, err := yaml.Marshal(manifest)
	require.NoError(t, err)

	var restored overrides.Manifest

	require.NoError(t, yaml.Unmarshal(raw, &restored))
	assert.True(t, manifest.Equal(restored))
}

func TestManifest_Equal(t *testing.T) {
	t.Parallel()

	base := overrides.Manifest{
		{Package: "a", RemoteBranch: "r1"},
		{Package: "b", RemoteBranch: "r2"},
	}

	tests := []struct {
		name  string
		other overrides.Manifest
		want  bool
	}{
		{
			name: "identical",
			other: overrides.Manifest{
				{Package: "a", RemoteBranch: "r1"},
				{Package: "b", RemoteBranch: "r2"},
			},
			want: true,
		},
		{
			name: "different order",
			other: overrides.Manifest{
				{Package: "b", RemoteBranch: "r2"},
				{Package: "a", RemoteBranch: "r1"},
			},
			want: false,
		},
		{
			name: "different branch",
			other: overrides.Manifest{
				{Package: "a", RemoteBranch: "r1"},
				{Package: "b", RemoteBranch: "r3"},
			},
			want: false,
		},
		{
			name:  "shorter",
			other: base[:1],
			want:  false,
		},
		{
			name:  "empty vs nil",
			other: nil,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(
				t, tt.want, base.Equal(tt.other),
			)
		})
	}
}

func TestManifest_EqualEmpty(t *testing.T) {
	t.Parallel()

	assert.True(
		t,
		overrides.Manifest{}.Equal(nil),
	)
}
