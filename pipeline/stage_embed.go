package pipeline

import (
	"context"

	"github.com/tidemill/inboxd/extractor"
	"github.com/tidemill/inboxd/mailembed"
)

type embedStage struct {
	embedder *mailembed.Embedder
}

// NewEmbedStage inlines external resources referenced by an email's
// HTML body, making the archived message self-contained. Non-email jobs
// pass through untouched.
func NewEmbedStage(embedder *mailembed.Embedder) Stage {
	return &embedStage{embedder: embedder}
}

func (s *embedStage) Name() string { return "mail-embed" }
func (s *embedStage) Order() int   { return 50 }

func (s *embedStage) Execute(ctx context.Context, jc *Context) (Outcome, error) {
	if jc.MIME != extractor.MIMEEmail {
		return Continue, nil
	}

	res, err := s.embedder.EmbedExternalResources(ctx, jc.ContentFile)
	if err != nil {
		jc.Warn("resource embedding failed: %v", err)
		return Continue, nil
	}
	jc.Warnings = append(jc.Warnings, res.Warnings...)
	jc.Logger.Debug("pipeline: resources embedded", "embedded", res.Embedded, "failed", res.Failed)
	return Continue, nil
}
