package reconcile

import (
	"sort"
	"strconv"
)

// SortTags orders tags as loose versions: each tag is split into runs of
// digits and runs of letters, and the runs are compared in turn. A tag that
// is a prefix of another sorts first, so "1.2.0" precedes "1.2.0-arm64".
// Numeric runs sort before words, which puts "latest" after every version.
func SortTags(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		return tagLess(tags[i], tags[j])
	})
}

type versionPart struct {
	num   uint64
	word  string
	isNum bool
}

func tagLess(a, b string) bool {
	if c := compareLoose(splitLoose(a), splitLoose(b)); c != 0 {
		return c < 0
	}
	return a < b
}

func compareLoose(a, b []versionPart) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		pa, pb := a[i], b[i]
		switch {
		case pa.isNum && pb.isNum:
			if pa.num != pb.num {
				if pa.num < pb.num {
					return -1
				}
				return 1
			}
		case pa.isNum:
			return -1
		case pb.isNum:
			return 1
		case pa.word != pb.word:
			if pa.word < pb.word {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// splitLoose drops separators such as '.', '-' and '+'.
func splitLoose(tag string) []versionPart {
	parts := make([]versionPart, 0, 4)
	for i := 0; i < len(tag); {
		j := i
		switch {
		case isDigit(tag[i]):
			for j < len(tag) && isDigit(tag[j]) {
				j++
			}
			n, err := strconv.ParseUint(tag[i:j], 10, 64)
			if err != nil {
				parts = append(parts, versionPart{word: tag[i:j]})
			} else {
				parts = append(parts, versionPart{num: n, isNum: true})
			}
		case isLetter(tag[i]):
			for j < len(tag) && isLetter(tag[j]) {
				j++
			}
			parts = append(parts, versionPart{word: tag[i:j]})
		default:
			j++
		}
		i = j
	}
	return parts
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
