package pipeline

import (
	"context"

	"github.com/tidemill/inboxd/sniff"
)

type sniffStage struct{}

// NewSniffStage determines the content type of the staged bytes.
func NewSniffStage() Stage {
	return &sniffStage{}
}

func (s *sniffStage) Name() string { return "content-sniff" }
func (s *sniffStage) Order() int   { return 20 }

func (s *sniffStage) Execute(_ context.Context, jc *Context) (Outcome, error) {
	mime, err := sniff.DetectFile(jc.ContentFile, jc.OriginalName)
	if err != nil {
		jc.Warn("content detection failed: %v", err)
		mime = sniff.FallbackMIME
	}
	jc.MIME = mime
	jc.Extension = sniff.ExtensionFor(mime)
	jc.Logger.Debug("pipeline: content sniffed", "mime", mime, "extension", jc.Extension)
	return Continue, nil
}
