package buildlog

import (
	"testing"

	"github.com/danmuck/tagstate/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionTags(t *testing.T) {
	assigned := map[string]struct{}{}
	assert.Equal(t, []string{"1", "1.2", "1.2.3"}, VersionTags("1.2.3", assigned))
	assert.Empty(t, assigned)

	assigned["1.2.3"] = struct{}{}
	assert.Equal(t, []string{"1.2.3"}, VersionTags("1.2.3", assigned))
	assert.Equal(t, []string{"1.2.3-arm64"}, VersionTags("1.2.3-arm64", assigned))
	assert.Equal(t, []string{"1.2"}, VersionTags("1.2", assigned))
	assert.Equal(t, []string{"1", "1.3", "1.3.0"}, VersionTags("1.3.0", assigned))
}

func TestParseVersionAfterExplicitTagKeepsFloatingTags(t *testing.T) {
	testlog.Start(t)
	records, err := Parse([]byte(`[
		{"digest": "sha:old", "tags": ["1", "1.2", "1.2.3"]},
		{"container_hash": "sha:rebuild", "version": "1.2.3"}
	]`), Options{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"1.2.3"}, records[1].Tags)
}

func TestParseVersionSeenThroughTimestampOrder(t *testing.T) {
	testlog.Start(t)
	records, err := Parse([]byte(`[
		{"container_hash": "sha:new", "version": "2.0.0", "timestamp": "2024-02-01T00:00:00Z"},
		{"container_hash": "sha:first", "version": "2.0.0", "timestamp": "2024-01-01T00:00:00Z"}
	]`), Options{Order: OrderTimestamp})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "sha:first", records[0].Digest)
	assert.Equal(t, []string{"2", "2.0", "2.0.0"}, records[0].Tags)
	assert.Equal(t, []string{"2.0.0"}, records[1].Tags)
}

func TestParseExpandsVersionRecords(t *testing.T) {
	testlog.Start(t)
	records, err := Parse([]byte(`[
		{"container_hash": "sha:100", "version": "1.0.0"},
		{"container_hash": "sha:110", "version": "1.1.0"},
		{"container_hash": "sha:100b", "version": "1.0.0"},
		{"container_hash": "sha:110arm", "version": "1.1.0-arm64"},
		{"container_hash": "sha:200", "version": "2.0.0", "tags": ["latest", "2"]}
	]`), Options{})
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, []string{"1", "1.0", "1.0.0"}, records[0].Tags)
	assert.Equal(t, []string{"1", "1.1", "1.1.0"}, records[1].Tags)
	assert.Equal(t, []string{"1.0.0"}, records[2].Tags)
	assert.Equal(t, []string{"1.1.0-arm64"}, records[3].Tags)
	assert.Equal(t, []string{"2", "2.0", "2.0.0", "latest"}, records[4].Tags)
	assert.Equal(t, "2.0.0", records[4].Version)
}
