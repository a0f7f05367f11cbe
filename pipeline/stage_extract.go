package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidemill/inboxd/extractor"
	"github.com/tidemill/inboxd/pdfinspect"
	"github.com/tidemill/inboxd/textlayer"
)

type extractStage struct {
	engine *extractor.Engine
}

// NewExtractStage turns the staged bytes into the structured text layer.
// Extraction never fails the run: degraded or empty output becomes a
// warning and an (almost) empty textlayer.txt.
func NewExtractStage(engine *extractor.Engine) Stage {
	return &extractStage{engine: engine}
}

func (s *extractStage) Name() string { return "extract" }
func (s *extractStage) Order() int   { return 40 }

func (s *extractStage) Execute(ctx context.Context, jc *Context) (Outcome, error) {
	b := textlayer.New(jc.OriginalName).
		Meta("filename", jc.OriginalName).
		Meta("mime", jc.MIME).
		Meta("processed_date", jc.Received.UTC().Format("2006-01-02"))

	switch jc.MIME {
	case extractor.MIMEEmail:
		s.extractEmail(ctx, jc, b)
	default:
		s.extractGeneric(ctx, jc, b)
	}

	if strings.TrimSpace(jc.Text) == "" {
		jc.Warn("no text extracted from %s", jc.OriginalName)
	}

	path := filepath.Join(jc.WorkingDir, textlayer.FileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return Continue, err
	}
	jc.Logger.Debug("pipeline: text layer written", "chars", len(jc.Text))
	return Continue, nil
}

func (s *extractStage) extractEmail(ctx context.Context, jc *Context, b *textlayer.Builder) {
	ec, err := s.engine.ExtractEmail(ctx, jc.ContentFile)
	if err != nil {
		jc.Warn("email extraction failed: %v", err)
		return
	}
	jc.Warnings = append(jc.Warnings, ec.Warnings...)

	b.Meta("subject", ec.Subject).Meta("from", ec.From)
	if !ec.Date.IsZero() {
		b.Meta("date", ec.Date.UTC().Format(time.RFC3339))
	}

	var parts []string
	if ec.Subject != "" {
		parts = append(parts, ec.Subject)
	}
	for _, body := range ec.Bodies {
		b.Content(body.MIME, body.Text)
		parts = append(parts, body.Text)
	}
	for _, att := range ec.Attachments {
		b.Attachment(att.Filename, att.Text)
		parts = append(parts, att.Text)
	}
	jc.Text = strings.Join(parts, "\n")
}

func (s *extractStage) extractGeneric(ctx context.Context, jc *Context, b *textlayer.Builder) {
	if jc.MIME == extractor.MIMEPDF && jc.PDF == nil {
		analysis, err := pdfinspect.Inspect(jc.ContentFile)
		if err != nil {
			jc.Warn("pdf inspection failed: %v", err)
		} else {
			jc.PDF = analysis
		}
	}
	if jc.PDF != nil {
		method := "text-layer"
		if jc.PDF.NeedsOCR {
			method = "ocr"
		}
		b.Meta("extraction", method)
	}

	text, warnings, err := s.engine.Extract(ctx, jc.ContentFile, jc.MIME, jc.PDF)
	jc.Warnings = append(jc.Warnings, warnings...)
	if err != nil {
		jc.Warn("extraction failed: %v", err)
		return
	}
	b.Content(jc.MIME, text)
	jc.Text = text
}
