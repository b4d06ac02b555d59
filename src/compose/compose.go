// Package compose builds bounded model context from an error report and its
// surrounding state. Every dispatch payload passes through here so that
// context size is a budget decision, not an accident of traceback length.
package compose

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"graphdoctor/src/contracts"
	"graphdoctor/src/envinfo"
)

// Profile bounds a composed context. Local endpoints get a gentler profile
// than remote ones since the cost of extra tokens is latency, not money.
type Profile struct {
	MaxChars      int
	TracebackHead int
	TracebackTail int
	MaxPackages   int
	MaxHistory    int
}

// RemoteProfile is the default trim profile for hosted providers.
func RemoteProfile(maxPackages int) Profile {
	return Profile{
		MaxChars:      8000,
		TracebackHead: 8,
		TracebackTail: 12,
		MaxPackages:   maxPackages,
		MaxHistory:    3,
	}
}

// LocalProfile loosens the budget for endpoints on the same host.
func LocalProfile(maxPackages int) Profile {
	return Profile{
		MaxChars:      24000,
		TracebackHead: 20,
		TracebackTail: 30,
		MaxPackages:   maxPackages * 2,
		MaxHistory:    5,
	}
}

// BoundedContext is the composed, size-limited context for one dispatch.
type BoundedContext struct {
	Text           string
	Truncated      bool
	PackagesListed int
}

// Composer assembles dispatch context. It holds the environment snapshot,
// which is collected once at startup and does not change per report.
type Composer struct {
	env envinfo.EnvInfo
}

func New(env envinfo.EnvInfo) *Composer {
	return &Composer{env: env}
}

// Message is one prior conversation turn supplied by the caller.
type Message struct {
	Role    string
	Content string
}

// Input carries everything compose may draw on for one report.
type Input struct {
	Report         contracts.ErrorReport
	NodeContext    contracts.NodeContext
	Classification contracts.Classification
	History        []contracts.HistoryEntry
	Messages       []Message
}

// Compose builds the bounded context for in. Trimming is staged: the oldest
// conversation turns go first, then history is dropped, then the traceback
// window tightens, and a hard character cut is the backstop. The final
// exception line survives every stage.
func (c *Composer) Compose(in Input, profile Profile) BoundedContext {
	var truncated bool

	traceback, cut := c.tracebackSection(in.Report, profile.TracebackHead, profile.TracebackTail)
	truncated = truncated || cut

	pkgs := c.selectPackages(in.Report.RawText, profile.MaxPackages)
	if len(pkgs) < len(c.env.Packages) {
		truncated = true
	}

	sections := []string{
		c.headerSection(),
		c.nodeSection(in.NodeContext),
		c.classificationSection(in.Classification),
		c.packageSection(pkgs),
		traceback,
		c.historySection(in.History, profile.MaxHistory),
		c.conversationSection(in.Messages),
	}

	text := joinSections(sections)
	// Stage one: shed the oldest conversation turns, newest kept.
	msgs := in.Messages
	for len(text) > profile.MaxChars && len(msgs) > 1 {
		truncated = true
		msgs = msgs[1:]
		sections[6] = c.conversationSection(msgs)
		text = joinSections(sections)
	}
	if len(text) > profile.MaxChars {
		// Stage two: drop history.
		truncated = true
		sections[5] = ""
		text = joinSections(sections)
	}
	if len(text) > profile.MaxChars {
		// Stage three: tighten the traceback window.
		tight, _ := c.tracebackSection(in.Report, 3, 6)
		sections[4] = tight
		text = joinSections(sections)
	}
	if len(text) > profile.MaxChars {
		// Backstop: hard cut from the front, keeping the tail where the
		// exception line lives. The cut advances to the next rune boundary
		// so a multi-byte sequence is never split.
		at := len(text) - profile.MaxChars
		for at < len(text) && !utf8.RuneStart(text[at]) {
			at++
		}
		text = text[at:]
	}

	return BoundedContext{Text: text, Truncated: truncated, PackagesListed: len(pkgs)}
}

func (c *Composer) headerSection() string {
	return fmt.Sprintf("Environment: %s/%s, %d CPUs, %s, app %s",
		c.env.OS, c.env.Arch, c.env.NumCPU, c.env.GoVersion, c.env.AppVersion)
}

func (c *Composer) nodeSection(nc contracts.NodeContext) string {
	if nc.IsZero() {
		return ""
	}
	var parts []string
	if nc.NodeID != "" {
		parts = append(parts, "id="+nc.NodeID)
	}
	if nc.NodeName != "" {
		parts = append(parts, "name="+nc.NodeName)
	}
	if nc.NodeClass != "" {
		parts = append(parts, "class="+nc.NodeClass)
	}
	if nc.CustomNodePath != "" {
		parts = append(parts, "custom_node="+compressPath(nc.CustomNodePath))
	}
	return "Failing node: " + strings.Join(parts, " ")
}

func (c *Composer) classificationSection(cls contracts.Classification) string {
	if cls.Category == "" {
		return ""
	}
	s := "Category: " + cls.Category
	if cls.PatternID != "" {
		s += " (" + cls.PatternID + ")"
	}
	return s
}

func (c *Composer) packageSection(pkgs []envinfo.Package) string {
	if len(pkgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Installed packages:")
	for _, p := range pkgs {
		b.WriteString("\n  ")
		b.WriteString(p.Name)
		b.WriteString("==")
		b.WriteString(p.Version)
	}
	return b.String()
}

func (c *Composer) tracebackSection(report contracts.ErrorReport, head, tail int) (string, bool) {
	lines := strings.Split(report.RawText, "\n")
	for i, line := range lines {
		lines[i] = tidyLine(line)
	}
	lines, cut := truncateHeadTail(lines, head, tail)
	label := "Traceback"
	if !report.Complete {
		label = "Traceback (partial capture)"
	}
	return label + ":\n" + strings.Join(lines, "\n"), cut
}

func (c *Composer) historySection(entries []contracts.HistoryEntry, max int) string {
	if len(entries) == 0 || max == 0 {
		return ""
	}
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	var b strings.Builder
	b.WriteString("Recent failures:")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("\n  %s %s (%s)",
			e.Timestamp.Format("15:04:05"), e.Classification.Category, e.Resolution))
	}
	return b.String()
}

func (c *Composer) conversationSection(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation:")
	for _, m := range msgs {
		b.WriteString("\n  ")
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func joinSections(sections []string) string {
	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
