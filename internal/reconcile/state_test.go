package reconcile_test

import (
	"testing"

	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(pairs ...any) []buildlog.Record {
	out := make([]buildlog.Record, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, buildlog.Record{
			Index:  len(out),
			Digest: pairs[i].(string),
			Tags:   pairs[i+1].([]string),
		})
	}
	return out
}

func TestDesiredLastWriterWins(t *testing.T) {
	log := records(
		"sha:A", []string{"v1"},
		"sha:B", []string{"v1", "v2"},
	)
	desired := reconcile.Desired(log)
	assert.Equal(t, reconcile.DesiredState{"v1": "sha:B", "v2": "sha:B"}, desired)
}

func TestDesiredUsesLastRecordListingEachTag(t *testing.T) {
	log := records(
		"sha:A", []string{"1", "1.0", "1.0.0"},
		"sha:B", []string{"1", "1.1", "1.1.0"},
		"sha:C", []string{"1.0.0"},
		"sha:D", []string{},
	)
	desired := reconcile.Desired(log)
	assert.Equal(t, reconcile.DesiredState{
		"1":     "sha:B",
		"1.0":   "sha:A",
		"1.0.0": "sha:C",
		"1.1":   "sha:B",
		"1.1.0": "sha:B",
	}, desired)
}

func TestDesiredIsDeterministic(t *testing.T) {
	log := records(
		"sha:A", []string{"latest", "v1"},
		"sha:B", []string{"v2", "latest"},
		"sha:C", []string{"v1"},
	)
	first := reconcile.Desired(log)
	second := reconcile.Desired(log)
	require.Equal(t, first, second)
	assert.Equal(t, first.Tags(), second.Tags())
}

func TestDesiredEmptyLog(t *testing.T) {
	assert.Empty(t, reconcile.Desired(nil))
	assert.Empty(t, reconcile.Desired([]buildlog.Record{}))
}

func TestDesiredRestrict(t *testing.T) {
	desired := reconcile.DesiredState{"v1": "sha:A", "v2": "sha:B"}
	assert.Equal(t, reconcile.DesiredState{"v2": "sha:B"}, desired.Restrict([]string{"v2", "v9"}))
}

func TestSortTags(t *testing.T) {
	tags := []string{"latest", "1.10.0", "2", "1.2.0", "1", "1.2", "1.2.0-arm64", "edge", "1.0.0"}
	reconcile.SortTags(tags)
	assert.Equal(t, []string{"1", "1.0.0", "1.2", "1.2.0", "1.2.0-arm64", "1.10.0", "2", "edge", "latest"}, tags)
}

func TestSortTagsArchitectureSuffixFollowsPlainVersion(t *testing.T) {
	tags := []string{"1.2.0-arm64", "1.2.0", "1.2", "1", "1.2.0-amd64", "1.2.1"}
	reconcile.SortTags(tags)
	assert.Equal(t, []string{"1", "1.2", "1.2.0", "1.2.0-amd64", "1.2.0-arm64", "1.2.1"}, tags)
}

func TestSortTagsWordsAfterVersions(t *testing.T) {
	tags := []string{"v10", "latest", "v2", "2", "nightly-2"}
	reconcile.SortTags(tags)
	assert.Equal(t, []string{"2", "latest", "nightly-2", "v2", "v10"}, tags)
}
