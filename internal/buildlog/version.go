package buildlog

import "strings"

// expandVersions prepends version-derived tags to each record, in evaluation
// order. A plain version only moves its floating tags when no earlier record,
// versioned or explicit, has already assigned the full M.m.p tag.
func expandVersions(records []Record) {
	assigned := make(map[string]struct{})
	for i := range records {
		if records[i].Version != "" {
			derived := VersionTags(records[i].Version, assigned)
			tags := make([]string, 0, len(derived)+len(records[i].Tags))
			for _, tag := range derived {
				tags = appendUnique(tags, tag)
			}
			for _, tag := range records[i].Tags {
				tags = appendUnique(tags, tag)
			}
			records[i].Tags = tags
		}
		for _, tag := range records[i].Tags {
			assigned[tag] = struct{}{}
		}
	}
}

// VersionTags returns the tags a version record assigns, given the set of
// tags assigned by earlier records.
func VersionTags(version string, assigned map[string]struct{}) []string {
	parts := strings.Split(strings.ReplaceAll(version, ".", "-"), "-")
	// Architecture-suffixed and short versions are pinned literally.
	if len(parts) != 3 {
		return []string{version}
	}

	major, minor, patch := parts[0], parts[1], parts[2]
	full := major + "." + minor + "." + patch
	if _, ok := assigned[full]; ok {
		return []string{full}
	}
	return []string{major, major + "." + minor, full}
}
