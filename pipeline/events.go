package pipeline

import "time"

// EventKind discriminates pipeline events on the wire.
type EventKind string

const (
	EventFileDetected EventKind = "file_detected"
	EventProgress     EventKind = "progress"
	EventResult       EventKind = "result"
	EventError        EventKind = "error"
)

// Event is one notification from the pipeline. A flat shape keeps SSE
// and log serialization trivial; unused fields stay empty per kind.
type Event struct {
	Kind     EventKind `json:"kind"`
	SHA256   string    `json:"sha256"`
	Filename string    `json:"filename,omitempty"`
	Source   string    `json:"source,omitempty"`

	// Progress fields.
	Message    string `json:"message,omitempty"`
	Step       int    `json:"step,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`

	// Terminal fields.
	Record *StatusRecord `json:"record,omitempty"`
	Reason string        `json:"reason,omitempty"`

	Time time.Time `json:"time"`
}

// Sink receives pipeline events. Implementations must not block; slow
// consumers drop or buffer on their own side.
type Sink func(Event)

// MultiSink fans one event out to several sinks in order.
func MultiSink(sinks ...Sink) Sink {
	return func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s(e)
			}
		}
	}
}
