package facts

import "strings"

// Kinds of merged pull requests, bucketed by title prefix.
const (
	KindFeat   = "feat"
	KindFix    = "fix"
	KindChore  = "chore"
	KindRevert = "revert"
	KindOther  = "other"
)

// Classify buckets a PR title by the substring before its first colon,
// trimmed and matched case-insensitively by prefix. Anything after the colon
// is ignored, so "feat(auth): add OAuth" classifies as feat.
func Classify(title string) (kind string, score float64) {
	prefix := title
	if idx := strings.Index(title, ":"); idx >= 0 {
		prefix = title[:idx]
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	switch {
	case strings.HasPrefix(prefix, KindFeat):
		return KindFeat, 3
	case strings.HasPrefix(prefix, KindFix):
		return KindFix, 2
	case strings.HasPrefix(prefix, KindChore):
		return KindChore, 1
	case strings.HasPrefix(prefix, KindRevert):
		return KindRevert, 0.5
	default:
		return KindOther, 0.5
	}
}
