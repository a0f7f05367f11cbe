package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tidemill/inboxd/classify"
	"github.com/tidemill/inboxd/pdfinspect"
)

// EmailMetadata holds header fields parsed from a message/rfc822 job.
type EmailMetadata struct {
	Subject    string
	Sender     string
	Recipients []string
	SentDate   time.Time
}

// Context is the per-run accumulator handed from stage to stage.
// It is owned by exactly one run and dies with it.
type Context struct {
	Hash         string
	WorkingDir   string
	OriginalName string
	SourceFolder string

	// Received is when the file was staged. Stable across re-runs of
	// the same job, so regenerated artifacts stay byte-identical.
	Received time.Time

	// ContentFile is the absolute path of the staged bytes.
	ContentFile string
	MIME        string
	Extension   string

	// Text is the extracted document text used for classification.
	Text string

	PDF        *pdfinspect.Analysis
	Email      *EmailMetadata
	Prediction *classify.Prediction

	// Warnings accumulates non-fatal degradations across stages.
	Warnings []string

	Step       int
	TotalSteps int

	Events Sink
	Logger *slog.Logger
}

// Warn records a non-fatal degradation on the run.
func (jc *Context) Warn(format string, args ...any) {
	jc.Warnings = append(jc.Warnings, fmt.Sprintf(format, args...))
}

// Emit publishes an event when a sink is attached.
func (jc *Context) Emit(e Event) {
	if jc.Events != nil {
		jc.Events(e)
	}
}
