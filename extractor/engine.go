// Package extractor turns staged documents into plain text.
//
// Dispatch is by MIME type: digital PDFs reuse the inspector's text layer,
// scanned PDFs and images go through tesseract, HTML is sanitized and
// converted to markdown, Office containers are read from their XML payload.
// Extraction never fails a document outright: degradation is reported as
// warnings and the text may legitimately come back empty.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/tidemill/inboxd/pdfinspect"
)

// MIME types with dedicated handling.
const (
	MIMEPDF   = "application/pdf"
	MIMEEmail = "message/rfc822"
	MIMEDocx  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEODT   = "application/vnd.oasis.opendocument.text"
)

// Config configures the extraction engine.
type Config struct {
	// OCRLanguages is the tesseract language spec. Default: "deu+eng".
	OCRLanguages string
	// TesseractBin is the tesseract executable. Default: "tesseract".
	TesseractBin string
	// PDFImageOCR enables OCR over images embedded in scanned PDFs.
	PDFImageOCR bool
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.OCRLanguages == "" {
		c.OCRLanguages = "deu+eng"
	}
	if c.TesseractBin == "" {
		c.TesseractBin = "tesseract"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine extracts text from documents.
type Engine struct {
	config    Config
	runner    Runner
	md        *converter.Converter
	sanitizer *bluemonday.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the external command runner (tests).
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		config: cfg,
		runner: &execRunner{logger: cfg.Logger},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		sanitizer: bluemonday.UGCPolicy(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns the plain text of the file at path. A cached PDF
// analysis may be passed in to avoid reopening the document; pass nil
// otherwise. Degradations come back as warnings, not errors.
func (e *Engine) Extract(ctx context.Context, path, mimeType string, pdf *pdfinspect.Analysis) (string, []string, error) {
	switch {
	case mimeType == MIMEPDF:
		return e.extractPDF(ctx, path, pdf)

	case strings.HasPrefix(mimeType, "image/"):
		text, err := e.ocrFile(ctx, path)
		if err != nil {
			return "", []string{fmt.Sprintf("OCR failed: %v", err)}, nil
		}
		return text, nil, nil

	case mimeType == "text/html":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("read html: %w", err)
		}
		return e.HTMLToText(string(data)), nil, nil

	case strings.HasPrefix(mimeType, "text/"):
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("read text: %w", err)
		}
		return string(data), nil, nil

	case mimeType == MIMEDocx:
		text, err := extractDocx(path)
		if err != nil {
			return "", []string{fmt.Sprintf("docx extraction failed: %v", err)}, nil
		}
		return text, nil, nil

	case mimeType == MIMEODT:
		text, err := extractODT(path)
		if err != nil {
			return "", []string{fmt.Sprintf("odt extraction failed: %v", err)}, nil
		}
		return text, nil, nil

	default:
		// Last resort: tesseract recognizes more raster formats than the
		// sniffer lists. Failure is a warning, not a pipeline error.
		text, err := e.ocrFile(ctx, path)
		if err != nil {
			return "", []string{fmt.Sprintf("no extractor for %s", mimeType)}, nil
		}
		return text, nil, nil
	}
}

func (e *Engine) extractPDF(ctx context.Context, path string, pdf *pdfinspect.Analysis) (string, []string, error) {
	if pdf == nil {
		var err error
		pdf, err = pdfinspect.Inspect(path)
		if err != nil {
			return "", nil, fmt.Errorf("inspect pdf: %w", err)
		}
	}

	if !pdf.NeedsOCR {
		return pdf.Text, nil, nil
	}

	text, warnings := e.ocrPDF(ctx, path)
	// Even a bad text layer may carry something the raster pass missed.
	if pdf.Text != "" {
		if text != "" {
			text = pdf.Text + "\n" + text
		} else {
			text = pdf.Text
		}
	}
	return text, warnings, nil
}
