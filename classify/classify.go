// Package classify assigns filing suggestions to extracted documents.
//
// Exactly one strategy runs per document: a cheap heuristic matcher or a
// local LLM. Candidates (available filing contexts and document
// categories) are fetched fresh for every run so newly created folders
// are immediately suggestible.
package classify

import "context"

// Candidate is one selectable filing target.
type Candidate struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Candidates are the selectable targets offered to a strategy.
type Candidates struct {
	Contexts   []Candidate `json:"contexts"`
	Categories []Candidate `json:"categories"`
}

// CandidateSource supplies fresh candidates per run.
type CandidateSource interface {
	FetchCandidates(ctx context.Context) (*Candidates, error)
}

// Prediction is the classification outcome attached to a job.
type Prediction struct {
	ContextUUID  string            `json:"context_uuid,omitempty"`
	CategoryUUID string            `json:"category_uuid,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	DocumentDate string            `json:"document_date,omitempty"` // YYYY-MM-DD
	Confidence   float64           `json:"confidence,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Strategy     string            `json:"strategy,omitempty"`
}

// Input is what a strategy gets to work with.
type Input struct {
	Text       string
	Filename   string
	Candidates Candidates
}

// Strategy produces a Prediction for one document.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, in Input) (*Prediction, error)
}
