package patterns

import (
	"sync/atomic"

	"graphdoctor/src/contracts"
)

// genericSuggestion is returned for reports no pattern recognizes.
const genericSuggestion = "No known failure signature matched. Check the full traceback for the root cause."

// Classifier matches error reports against the current registry snapshot.
// Safe for concurrent use; Swap replaces the whole table atomically.
type Classifier struct {
	current atomic.Pointer[Registry]
}

// NewClassifier creates a classifier over an initial registry.
func NewClassifier(reg *Registry) *Classifier {
	c := &Classifier{}
	c.current.Store(reg)
	return c
}

// Swap atomically replaces the registry. Readers never block.
func (c *Classifier) Swap(reg *Registry) {
	c.current.Store(reg)
}

// Registry returns the current snapshot.
func (c *Classifier) Registry() *Registry {
	return c.current.Load()
}

// Classify matches a report against the registry in descending priority
// order; the first regex match wins. Unmatched reports yield the generic
// unclassified category rather than an error. lang selects the suggestion
// translation, falling back to English.
func (c *Classifier) Classify(report contracts.ErrorReport, lang string) contracts.Classification {
	reg := c.current.Load()

	for _, p := range reg.patterns {
		if !p.re.MatchString(report.RawText) {
			continue
		}
		return contracts.Classification{
			PatternID:  p.ID,
			Category:   p.Category,
			Suggestion: suggestionFor(p.ErrorPattern, lang),
			Matched:    true,
		}
	}

	return contracts.Classification{
		Category:   contracts.CategoryUnclassified,
		Suggestion: genericSuggestion,
		Matched:    false,
	}
}

func suggestionFor(p contracts.ErrorPattern, lang string) string {
	if s, ok := p.Translations[lang]; ok {
		return s
	}
	return p.Translations["en"]
}
