package decision

import "strings"

// minBranchLength is the smallest maxLen Branch honours.
const minBranchLength = 8

// Branch derives the delegation branch name:
// <prefix>/<origin>-<title-slug>[-<step>], at most maxLen bytes.
// The title slug is truncated first so the origin and step survive.
// A maxLen below 8 is raised to 8.
func Branch(prefix string, origin Origin, maxLen int) string {
	if maxLen < minBranchLength {
		maxLen = minBranchLength
	}
	base := slugify(origin.ID)
	if prefix != "" {
		base = prefix + "/" + base
	}
	var tail string
	if step := slugify(origin.Step); step != "" {
		tail = "-" + step
	}
	sep := ""
	if base != "" && !strings.HasSuffix(base, "/") {
		sep = "-"
	}

	slug := slugify(origin.Title)
	budget := maxLen - len(base) - len(sep) - len(tail)
	if budget < len(slug) {
		if budget > 0 {
			slug = strings.TrimRight(slug[:budget], "-")
		} else {
			slug = ""
		}
	}

	name := base
	if slug != "" {
		name += sep + slug
	}
	if strings.HasSuffix(name, "/") {
		tail = strings.TrimPrefix(tail, "-")
	}
	name += tail
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return strings.TrimRight(name, "-/")
}

// slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single '-', trimming leading and trailing dashes.
func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
