// Package patterns matches assembled error reports against a registry of
// known failure signatures. The registry is an immutable value swapped
// atomically on reload: in-flight classification calls always see either the
// fully-old or fully-new table, never a mix.
package patterns

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"graphdoctor/src/contracts"
)

// Priority bounds for registry entries.
const (
	MinPriority = 50
	MaxPriority = 95
)

// compiledPattern pairs a registry entry with its compiled regex. Compilation
// happens once at registry construction, which is the per-pattern cache: no
// classify call ever recompiles.
type compiledPattern struct {
	contracts.ErrorPattern
	re *regexp.Regexp
}

// Registry is an immutable, ordered snapshot of the pattern table.
type Registry struct {
	version  int
	patterns []compiledPattern
}

// NewRegistry validates, compiles, and orders a pattern set. Ordering is
// descending priority with pattern ID as the deterministic tie-break.
func NewRegistry(version int, pats []contracts.ErrorPattern) (*Registry, error) {
	seen := make(map[string]bool, len(pats))
	compiled := make([]compiledPattern, 0, len(pats))

	for _, p := range pats {
		if p.ID == "" {
			return nil, fmt.Errorf("pattern with empty id")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		seen[p.ID] = true

		if p.Priority < MinPriority || p.Priority > MaxPriority {
			return nil, fmt.Errorf("pattern %q: priority %d outside [%d,%d]", p.ID, p.Priority, MinPriority, MaxPriority)
		}
		if p.Category == "" {
			return nil, fmt.Errorf("pattern %q: empty category", p.ID)
		}
		if _, ok := p.Translations["en"]; !ok {
			return nil, fmt.Errorf("pattern %q: missing required \"en\" translation", p.ID)
		}

		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: invalid regex: %w", p.ID, err)
		}
		compiled = append(compiled, compiledPattern{ErrorPattern: p, re: re})
	}

	sort.Slice(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].ID < compiled[j].ID
	})

	return &Registry{version: version, patterns: compiled}, nil
}

// Version returns the registry's version stamp.
func (r *Registry) Version() int { return r.version }

// Len returns the number of patterns in the registry.
func (r *Registry) Len() int { return len(r.patterns) }

// registryFile is the on-disk JSON shape of a pattern registry.
type registryFile struct {
	Version  int                      `json:"version"`
	Patterns []contracts.ErrorPattern `json:"patterns"`
}

// LoadFile reads and compiles a registry from a JSON file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file %s: %w", path, err)
	}

	return NewRegistry(rf.Version, rf.Patterns)
}
