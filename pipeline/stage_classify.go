package pipeline

import (
	"context"
	"strings"

	"github.com/tidemill/inboxd/classify"
)

// Reserved attribute keys seeded from email metadata.
const (
	attrEmailSender     = "email_sender"
	attrEmailRecipients = "email_recipients"
)

type classifyStage struct {
	selector   *classify.Selector
	candidates classify.CandidateSource
}

// NewClassifyStage asks the selected strategy for a filing suggestion.
// Strategy failures degrade to warnings; having no enabled strategy at
// all is a configuration error and fails the run.
func NewClassifyStage(selector *classify.Selector, candidates classify.CandidateSource) Stage {
	return &classifyStage{selector: selector, candidates: candidates}
}

func (s *classifyStage) Name() string { return "classify" }
func (s *classifyStage) Order() int   { return 60 }

func (s *classifyStage) Execute(ctx context.Context, jc *Context) (Outcome, error) {
	strategy, err := s.selector.Pick()
	if err != nil {
		return Continue, err
	}

	in := classify.Input{Text: jc.Text, Filename: jc.OriginalName}
	if cand, err := s.candidates.FetchCandidates(ctx); err != nil {
		jc.Warn("candidate fetch failed: %v", err)
	} else if cand != nil {
		in.Candidates = *cand
	}

	pred, err := strategy.Analyze(ctx, in)
	if err != nil {
		jc.Warn("classification failed (%s): %v", strategy.Name(), err)
		pred = nil
	}
	jc.Prediction = s.enrich(jc, pred)
	if jc.Prediction != nil {
		jc.Logger.Debug("pipeline: classified",
			"strategy", jc.Prediction.Strategy,
			"context", jc.Prediction.ContextUUID,
			"confidence", jc.Prediction.Confidence)
	}
	return Continue, nil
}

// enrich folds email header metadata into the prediction: the sent date
// backs an unknown document date, sender and recipients land under
// reserved attribute keys.
func (s *classifyStage) enrich(jc *Context, pred *classify.Prediction) *classify.Prediction {
	if jc.Email == nil {
		return pred
	}
	if pred == nil {
		pred = &classify.Prediction{Strategy: "metadata"}
	}
	if pred.DocumentDate == "" && !jc.Email.SentDate.IsZero() {
		pred.DocumentDate = jc.Email.SentDate.UTC().Format("2006-01-02")
	}
	if pred.Attributes == nil {
		pred.Attributes = map[string]string{}
	}
	if jc.Email.Sender != "" {
		pred.Attributes[attrEmailSender] = jc.Email.Sender
	}
	if len(jc.Email.Recipients) > 0 {
		pred.Attributes[attrEmailRecipients] = strings.Join(jc.Email.Recipients, ", ")
	}
	return pred
}
