// Package capture receives raw console lines from the host process and
// assembles consecutive lines into complete error reports. Ingestion must
// never block the host: flushed reports go onto a bounded delivery queue and
// a slow consumer sheds load there, not here.
package capture

import (
	"regexp"
	"strings"
	"time"

	"graphdoctor/src/contracts"
)

// tracebackStartPattern recognizes the first line of a failure report:
// a Python traceback header or the host's execution error banner.
var tracebackStartPattern = regexp.MustCompile(`^(?:Traceback \(most recent call last\):|Traceback|!!! Exception during processing|Error occurred when executing )`)

// Assembler groups consecutive log lines into error reports. Not safe for
// concurrent use; the Sink serializes access.
type Assembler struct {
	timeout     time.Duration
	bufferLimit int

	open         bool
	lines        []string
	pendingBlank bool
	startTS      time.Time
	lastTS       time.Time
}

// NewAssembler creates an assembler. timeout bounds how long an incomplete
// report is held open; bufferLimit caps its line count.
func NewAssembler(timeout time.Duration, bufferLimit int) *Assembler {
	return &Assembler{timeout: timeout, bufferLimit: bufferLimit}
}

// Ingest feeds one line through the assembler. It returns a finished report
// when the line completed one (terminating heuristic: a blank line followed
// by a non-indented line), otherwise nil. A line that terminates one report
// may itself open the next.
func (a *Assembler) Ingest(line contracts.LogLine) *contracts.ErrorReport {
	text := line.Text

	if !a.open {
		if tracebackStartPattern.MatchString(text) {
			a.start(text, line.Timestamp)
		}
		return nil
	}

	if a.pendingBlank {
		if text == "" {
			// Consecutive blanks stay pending; they belong to the report
			// only if indented content follows.
			return nil
		}
		if isIndented(text) {
			a.lines = append(a.lines, "", text)
			a.pendingBlank = false
			a.lastTS = line.Timestamp
			return a.overflowFlush()
		}
		// Blank then non-indented: the report is complete and the current
		// line belongs to the surrounding log stream — unless it opens the
		// next report.
		report := a.finish(true)
		if tracebackStartPattern.MatchString(text) {
			a.start(text, line.Timestamp)
		}
		return report
	}

	if text == "" {
		a.pendingBlank = true
		return nil
	}

	a.lines = append(a.lines, text)
	a.lastTS = line.Timestamp
	return a.overflowFlush()
}

// FlushStale flushes the in-progress report as a partial capture when no line
// has arrived within the traceback timeout. Returns nil when nothing is stale.
func (a *Assembler) FlushStale(now time.Time) *contracts.ErrorReport {
	if !a.open || now.Sub(a.lastTS) < a.timeout {
		return nil
	}
	return a.finish(false)
}

func (a *Assembler) start(text string, ts time.Time) {
	a.open = true
	a.lines = []string{text}
	a.pendingBlank = false
	a.startTS = ts
	a.lastTS = ts
}

// overflowFlush forces an early partial flush once the buffer limit is hit,
// bounding memory held for a single runaway report.
func (a *Assembler) overflowFlush() *contracts.ErrorReport {
	if len(a.lines) < a.bufferLimit {
		return nil
	}
	return a.finish(false)
}

func (a *Assembler) finish(complete bool) *contracts.ErrorReport {
	report := &contracts.ErrorReport{
		RawText:  strings.Join(a.lines, "\n"),
		StartTS:  a.startTS,
		EndTS:    a.lastTS,
		Complete: complete,
	}
	a.open = false
	a.lines = nil
	a.pendingBlank = false
	return report
}

func isIndented(text string) bool {
	return strings.HasPrefix(text, " ") || strings.HasPrefix(text, "\t")
}
