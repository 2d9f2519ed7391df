package reconcile

import (
	"github.com/danmuck/tagstate/internal/buildlog"
)

// DesiredState maps each tag to the digest it should point at.
type DesiredState map[string]string

// ObservedState maps each existing tag to the digest the registry resolves it to.
type ObservedState map[string]string

// Desired folds records in order; the last record listing a tag wins.
func Desired(records []buildlog.Record) DesiredState {
	desired := make(DesiredState)
	for _, rec := range records {
		for _, tag := range rec.Tags {
			desired[tag] = rec.Digest
		}
	}
	return desired
}

// Tags returns the desired tags in display order.
func (d DesiredState) Tags() []string {
	tags := make([]string, 0, len(d))
	for tag := range d {
		tags = append(tags, tag)
	}
	SortTags(tags)
	return tags
}

// Restrict keeps only the listed tags.
func (d DesiredState) Restrict(tags []string) DesiredState {
	out := make(DesiredState, len(tags))
	for _, tag := range tags {
		if digest, ok := d[tag]; ok {
			out[tag] = digest
		}
	}
	return out
}
