package gitstate

import (
	"strconv"
	"strings"
)

// versionSatisfies reports whether the version reported by git describe
// meets the configured constraint. Supported constraint forms:
//
//	v1.2.3            exact tag (HEAD must be the tag itself)
//	=v1.2.3           same as above
//	>=v1.2.3 >v1.2.3  semver comparison on the nearest reachable tag
//	<=v1.2.3 <v1.2.3
//	~v1.2             same major.minor, any patch
//
// A describe value like "v1.2.3-4-gabcdef" (four commits past the tag)
// compares as v1.2.3 for range operators but never matches an exact tag.
func versionSatisfies(describe, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true
	}
	describe = strings.TrimSpace(describe)
	if describe == "" {
		return false
	}

	op := "="
	rest := constraint
	switch {
	case strings.HasPrefix(constraint, ">="):
		op, rest = ">=", constraint[2:]
	case strings.HasPrefix(constraint, "<="):
		op, rest = "<=", constraint[2:]
	case strings.HasPrefix(constraint, "~"):
		op, rest = "~", constraint[1:]
	case strings.HasPrefix(constraint, ">"):
		op, rest = ">", constraint[1:]
	case strings.HasPrefix(constraint, "<"):
		op, rest = "<", constraint[1:]
	case strings.HasPrefix(constraint, "="):
		op, rest = "=", constraint[1:]
	}
	rest = strings.TrimSpace(rest)

	if op == "=" {
		return normalizeTag(describe) == normalizeTag(rest)
	}

	have, ok := parseVersion(describe)
	if !ok {
		return false
	}
	want, ok := parseVersion(rest)
	if !ok {
		return false
	}

	switch op {
	case "~":
		return have[0] == want[0] && have[1] == want[1]
	case ">=":
		return compareVersions(have, want) >= 0
	case ">":
		return compareVersions(have, want) > 0
	case "<=":
		return compareVersions(have, want) <= 0
	case "<":
		return compareVersions(have, want) < 0
	}
	return false
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if len(tag) > 1 && (tag[0] == 'v' || tag[0] == 'V') {
		return tag[1:]
	}
	return tag
}

// parseVersion extracts major.minor.patch from a tag or describe string,
// ignoring any describe suffix after the first hyphen. Missing components
// default to zero.
func parseVersion(value string) ([3]int, bool) {
	var parsed [3]int
	value = normalizeTag(value)
	if idx := strings.Index(value, "-"); idx >= 0 {
		value = value[:idx]
	}
	if value == "" {
		return parsed, false
	}
	parts := strings.Split(value, ".")
	if len(parts) > 3 {
		return parsed, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return parsed, false
		}
		parsed[i] = n
	}
	return parsed, true
}

func compareVersions(a, b [3]int) int {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
