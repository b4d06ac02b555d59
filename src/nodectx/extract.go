// Package nodectx recovers which workflow node a failure originated from by
// reading structural cues out of an assembled error report. Every field of
// the result is optional; callers merge successive extractions rather than
// overwriting, so a later report with fewer cues never erases known context.
package nodectx

import (
	"regexp"
	"strings"

	"graphdoctor/src/contracts"
)

var (
	// execHeaderPattern matches the host's execution error banner, the most
	// specific cue available: "Error occurred when executing #12 KSampler:".
	// The node id part is optional.
	execHeaderPattern = regexp.MustCompile(`(?i)error occurred when executing (?:#(\w+)\s+)?([A-Za-z_][\w.]*)\s*:`)

	// Annotation lines emitted by the host alongside the traceback.
	nodeIDPattern   = regexp.MustCompile(`(?im)^\s*node id:\s*#?(\w+)\s*$`)
	nodeNamePattern = regexp.MustCompile(`(?im)^\s*node name:\s*(.+?)\s*$`)
	nodeTypePattern = regexp.MustCompile(`(?im)^\s*node type:\s*(\S+)\s*$`)

	// customNodePattern pulls the package directory out of a stack frame path
	// under the host's custom_nodes tree.
	customNodePattern = regexp.MustCompile(`[/\\]custom_nodes[/\\]([^/\\\s"']+)`)

	// classFramePattern is the coarsest fallback: the enclosing function of
	// the last stack frame, which for node implementations is usually the
	// node class method.
	classFramePattern = regexp.MustCompile(`(?m)^\s*File "[^"]*[/\\]nodes\.py", line \d+, in ([A-Za-z_]\w*)`)
)

// Extract pulls the most specific node context available from report text,
// falling back to progressively coarser cues. A report with no cues yields a
// zero NodeContext, which downstream consumers treat as "no update", not as
// "no context".
func Extract(text string) contracts.NodeContext {
	var ctx contracts.NodeContext

	if m := execHeaderPattern.FindStringSubmatch(text); m != nil {
		ctx.NodeID = m[1]
		ctx.NodeClass = m[2]
	}

	if m := nodeIDPattern.FindStringSubmatch(text); m != nil {
		ctx.NodeID = m[1]
	}
	if m := nodeNamePattern.FindStringSubmatch(text); m != nil {
		ctx.NodeName = m[1]
	}
	if m := nodeTypePattern.FindStringSubmatch(text); m != nil {
		ctx.NodeClass = m[1]
	}

	if m := customNodePattern.FindStringSubmatch(text); m != nil {
		ctx.CustomNodePath = m[1]
	}

	// Coarse fallback: infer the class from the failing frame when nothing
	// named it explicitly.
	if ctx.NodeClass == "" {
		if frames := classFramePattern.FindAllStringSubmatch(text, -1); len(frames) > 0 {
			candidate := frames[len(frames)-1][1]
			if !isModuleLevel(candidate) {
				ctx.NodeClass = candidate
			}
		}
	}

	return ctx
}

// isModuleLevel filters frame names that cannot be node classes.
func isModuleLevel(name string) bool {
	switch strings.ToLower(name) {
	case "main", "wrapper", "inner", "execute":
		return true
	}
	return false
}
