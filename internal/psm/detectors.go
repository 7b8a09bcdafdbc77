package psm

import (
	"regexp"
	"strings"

	"github.com/forkline/core/internal/stringutil"
)

// altScreenEnterRe/altScreenExitRe detect the alternate screen buffer CSI
// sequences that full-screen TUIs (agent REPLs, editors, pagers) switch with.
var (
	altScreenEnterRe = regexp.MustCompile(`\x1b\[\?1049h`)
	altScreenExitRe  = regexp.MustCompile(`\x1b\[\?1049l`)
)

// providerStartRe/providerExitRe recognize the OSC 1337 marker a provider CLI
// may emit to announce itself unambiguously, rather than relying solely on
// inference from shell/TUI text. Format: ESC ] 1337 ; ForklineEvent=<name> BEL
var (
	providerStartRe = regexp.MustCompile(`\x1b\]1337;ForklineEvent=provider-start:([a-zA-Z0-9_-]+)(?:\x07|\x1b\\)`)
	providerExitRe  = regexp.MustCompile(`\x1b\]1337;ForklineEvent=provider-exit(?:\x07|\x1b\\)`)
)

// blockedPrompt is one named, ordered pattern recognized as a confirmation
// prompt that is waiting on operator input. Order matters: the first match
// in the tail wins.
type blockedPrompt struct {
	name string
	re   *regexp.Regexp
}

// blockedPrompts is the ordered detector list, covering confirmation
// patterns (yes/no, enter-to-select, do-you-want-to-proceed) in
// provider-agnostic phrasing.
var blockedPrompts = []blockedPrompt{
	{"yes-no", regexp.MustCompile(`(?i)(\(y/n\)|\by/n\b|yes/no|\(y\)es/\(n\)o)`)},
	{"bracket-yn", regexp.MustCompile(`(?i)\[y/n\]`)},
	{"enter-to-select", regexp.MustCompile(`(?im)^\s*(❯|>)?\s*(press enter|enter to select|enter to confirm)\b`)},
	{"do-you-want-to", regexp.MustCompile(`(?i)do you want to (proceed|continue|apply|allow|run)\??`)},
	{"numbered-choice", regexp.MustCompile(`(?im)^\s*\d+\.\s.+\n(\s*\d+\.\s.+\n?){1,}\s*(enter|choose|select)\b`)},
	{"overwrite-confirm", regexp.MustCompile(`(?i)(overwrite|replace|delete)\b.*\?\s*$`)},
	{"press-any-key", regexp.MustCompile(`(?i)press any key to continue`)},
}

// detectBlockedPrompt scans the normalized tail for the first matching
// blocked-prompt pattern and returns a trimmed, truncated reason: the
// matched line itself.
func detectBlockedPrompt(tail string) (string, bool) {
	for _, p := range blockedPrompts {
		if loc := p.re.FindStringIndex(tail); loc != nil {
			line := matchedLine(tail, loc[0], loc[1])
			return stringutil.TruncateString(line, blockedReasonMaxLen), true
		}
	}
	return "", false
}

// shellPromptRe matches common POSIX shell prompt endings: a trailing
// "$ ", "# ", or "% " at the end of the tail, optionally preceded by a
// path/user@host segment. Deliberately loose: false positives just mean a
// late transition to shell mode, which self-corrects on the next chunk.
var shellPromptRe = regexp.MustCompile(`(?m)[^\n]{0,200}[$#%]\s*$`)

func detectShellPrompt(tail string) bool {
	trimmed := strings.TrimRight(tail, "\n")
	if trimmed == "" {
		return false
	}
	lastLine := trimmed
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		lastLine = trimmed[i+1:]
	}
	return shellPromptRe.MatchString(lastLine)
}

// matchedLine expands a byte range to the full line it falls within, so a
// mid-line regex match still reports whole-line context.
func matchedLine(s string, start, end int) string {
	lineStart := strings.LastIndexByte(s[:start], '\n') + 1
	lineEnd := end
	if i := strings.IndexByte(s[end:], '\n'); i >= 0 {
		lineEnd = end + i
	} else {
		lineEnd = len(s)
	}
	return strings.TrimSpace(s[lineStart:lineEnd])
}
