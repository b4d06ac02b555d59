package compose

import (
	"fmt"
	"regexp"
	"strings"
)

// Presentation-level cleanups applied to model-bound text. These reduce token
// spend without hiding diagnostic detail; redaction is the sanitize package's
// job, not this one's.

// longPathPattern matches absolute paths with 3+ directories, capturing the
// filename and optional line number for preservation.
var longPathPattern = regexp.MustCompile(`/(?:[^/\s]+/){3,}([^/\s:]+(?::\d+)?)`)

// whitespacePattern matches runs of spaces and tabs (not newlines, which
// carry structure in a traceback).
var whitespacePattern = regexp.MustCompile(`[ \t]{2,}`)

// compressPath shortens long file paths to .../filename:line.
func compressPath(line string) string {
	return longPathPattern.ReplaceAllString(line, ".../$1")
}

// tidyLine compresses paths and collapses interior whitespace runs while
// keeping leading indentation, which distinguishes frame lines from message
// lines.
func tidyLine(line string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	rest := strings.TrimLeft(line, " \t")
	rest = compressPath(rest)
	rest = whitespacePattern.ReplaceAllString(rest, " ")
	return indent + strings.TrimRight(rest, " \t")
}

// truncateHeadTail keeps the first head and last tail lines of text when it
// exceeds head+tail lines, marking the elision. Tracebacks carry their signal
// at both ends: the entry frames and the final exception line.
func truncateHeadTail(lines []string, head, tail int) ([]string, bool) {
	if len(lines) <= head+tail {
		return lines, false
	}
	elided := len(lines) - head - tail
	out := make([]string, 0, head+tail+1)
	out = append(out, lines[:head]...)
	out = append(out, fmt.Sprintf("... (%d lines elided) ...", elided))
	out = append(out, lines[len(lines)-tail:]...)
	return out, true
}
