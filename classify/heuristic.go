package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Heuristic is the zero-dependency fallback strategy: whole-word matching
// of context names against the document text plus regex date extraction.
// It never errs; an empty Prediction is a valid outcome.
type Heuristic struct{}

// NewHeuristic creates the heuristic strategy.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name implements Strategy.
func (h *Heuristic) Name() string { return "heuristic" }

// Analyze implements Strategy. When several context names occur in the
// text, the longest name wins: "Steuer 2024" beats "Steuer".
func (h *Heuristic) Analyze(_ context.Context, in Input) (*Prediction, error) {
	p := &Prediction{Strategy: h.Name(), Attributes: map[string]string{}}

	haystack := in.Text
	if in.Filename != "" {
		haystack += "\n" + in.Filename
	}

	var best *Candidate
	for i := range in.Candidates.Contexts {
		c := &in.Candidates.Contexts[i]
		if c.Name == "" || !wholeWordMatch(haystack, c.Name) {
			continue
		}
		if best == nil || len(c.Name) > len(best.Name) {
			best = c
		}
	}
	if best != nil {
		p.ContextUUID = best.UUID
		p.Summary = fmt.Sprintf("Matched folder '%s'", best.Name)
		p.Confidence = 0.5
	}

	p.DocumentDate = ExtractDate(in.Text)
	return p, nil
}

// wholeWordMatch reports whether name occurs in text as whole words,
// case-insensitively.
func wholeWordMatch(text, name string) bool {
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
