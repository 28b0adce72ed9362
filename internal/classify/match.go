package classify

import (
	"regexp"
	"strings"
)

// containsKeyword reports whether kw occurs in lower at a word start.
// Both arguments must already be lowercased. Matching only anchors the
// left edge, so "test" matches "tests" but "ui" does not match "build".
func containsKeyword(lower, kw string) bool {
	if kw == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(lower[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		if i == 0 || !isWordByte(lower[i-1]) {
			return true
		}
		from = i + 1
	}
}

// firstKeyword returns the first keyword of kws found in lower.
func firstKeyword(lower string, kws []string) (string, bool) {
	for _, kw := range kws {
		if containsKeyword(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

var fileHintPattern = regexp.MustCompile(
	`(?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_\-]+\.(?:go|ts|tsx|js|jsx|py|rb|java|kt|rs|c|h|cc|cpp|cs|swift|php|md|yaml|yml|json|toml|sql|proto|css|scss|html|sh)\b`)

// extractFiles returns path-like tokens in order of first appearance.
func extractFiles(text string) []string {
	matches := fileHintPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		files = append(files, m)
	}
	return files
}
