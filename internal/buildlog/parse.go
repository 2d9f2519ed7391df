package buildlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
)

type rawRecord struct {
	Digest        *string  `json:"digest"`
	ContainerHash *string  `json:"container_hash"`
	Tags          []string `json:"tags"`
	Version       *string  `json:"version"`
	Timestamp     *string  `json:"timestamp"`
}

// Read loads and parses the build log at path.
func Read(path string, opts Options) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMalformedLog, path, err)
	}
	records, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Parse decodes a build log. The returned records are in evaluation order
// with tags fully expanded.
func Parse(data []byte, opts Options) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: top level must be a JSON array", ErrMalformedLog)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedLog, err)
	}

	records := make([]Record, 0, len(entries))
	for i, entry := range entries {
		rec, err := parseRecord(i, entry, opts)
		if err != nil {
			if opts.SkipInvalid {
				log.Warn().Int("index", i).Err(err).Msg("buildlog_record_skipped")
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	if opts.Order == OrderTimestamp {
		sortByTimestamp(records)
	}
	expandVersions(records)
	return records, nil
}

func parseRecord(index int, entry json.RawMessage, opts Options) (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(entry, &raw); err != nil {
		return Record{}, malformed(index, "decode: %v", err)
	}

	rec := Record{Index: index}
	switch {
	case raw.Digest != nil:
		rec.Digest = strings.TrimSpace(*raw.Digest)
	case raw.ContainerHash != nil:
		rec.Digest = strings.TrimSpace(*raw.ContainerHash)
	}
	if rec.Digest == "" {
		return Record{}, malformed(index, "missing digest")
	}
	if opts.ValidateDigests {
		if _, err := digest.Parse(rec.Digest); err != nil {
			return Record{}, malformed(index, "invalid digest %q: %v", rec.Digest, err)
		}
	}

	for j, tag := range raw.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return Record{}, malformed(index, "tags[%d] is empty", j)
		}
		rec.Tags = appendUnique(rec.Tags, tag)
	}

	if raw.Version != nil {
		rec.Version = strings.TrimSpace(*raw.Version)
		if rec.Version == "" {
			return Record{}, malformed(index, "version is empty")
		}
	}

	if raw.Timestamp != nil && strings.TrimSpace(*raw.Timestamp) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw.Timestamp))
		if err != nil {
			return Record{}, malformed(index, "invalid timestamp: %v", err)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

// Records without a timestamp keep their relative position ahead of timestamped ones.
func sortByTimestamp(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.HasTimestamp() != b.HasTimestamp() {
			return !a.HasTimestamp()
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

func appendUnique(tags []string, tag string) []string {
	for _, existing := range tags {
		if existing == tag {
			return tags
		}
	}
	return append(tags, tag)
}
