package pipeline

import "context"

// Outcome is the non-error result of a stage. The zero value means
// continue with the next stage. A duplicate outcome short-circuits the
// run into the DUPLICATE terminal branch without being a failure.
type Outcome struct {
	duplicate bool
	matchedID string
}

// Continue is the default outcome.
var Continue = Outcome{}

// Duplicate marks the run as a duplicate of an archived item.
func Duplicate(matchedID string) Outcome {
	return Outcome{duplicate: true, matchedID: matchedID}
}

// IsDuplicate reports the duplicate branch and the matched archive ID.
func (o Outcome) IsDuplicate() (string, bool) {
	return o.matchedID, o.duplicate
}

// Stage is one step of the ingestion pipeline. Stages are stateless
// between runs; everything per-job lives on the Context.
type Stage interface {
	Name() string

	// Order positions the stage in the run. The coordinator sorts
	// ascending at construction, registration order is irrelevant.
	Order() int

	Execute(ctx context.Context, jc *Context) (Outcome, error)
}
