package worktree

import "regexp"

var (
	taskNameInvalidCharRe = regexp.MustCompile(`[^a-z0-9._-]+`)
	taskNameRunRe         = regexp.MustCompile(`[-._]{2,}`)
)

// sanitizeTaskName lowercases, strips any character outside [a-z0-9._-],
// collapses runs of separators, and trims leading/trailing separators. A
// name that sanitizes to empty is the caller's problem: the fallback
// "task-<short>" naming is synthesized upstream, not here.
func sanitizeTaskName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	s := taskNameInvalidCharRe.ReplaceAllString(string(out), "-")
	s = taskNameRunRe.ReplaceAllString(s, "-")
	return trimSeparators(s)
}

func trimSeparators(s string) string {
	start, end := 0, len(s)
	for start < end && isSeparator(s[start]) {
		start++
	}
	for end > start && isSeparator(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSeparator(c byte) bool {
	return c == '-' || c == '.' || c == '_'
}
