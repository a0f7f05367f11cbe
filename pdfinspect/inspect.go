// Package pdfinspect analyses the text layer of PDF files to decide
// between direct text extraction and OCR.
//
// The document is opened exactly once per pipeline run; the resulting
// Analysis is cached on the job and shared by the extraction stage.
package pdfinspect

import (
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Decision thresholds for a usable text layer.
const (
	minGoodChars     = 50
	minCharsPerPage  = 30.0
	minProducerChars = 10
	sampleMaxPages   = 5
	samplePageLimit  = 20 // above this, the first pass reads only sampleMaxPages
)

// ocrProducers are producer/creator fragments that identify OCR software.
// A document from one of these tools carries a trustworthy text layer even
// when it is sparse (stamps, forms, mostly-graphical pages).
var ocrProducers = []string{
	"abbyy",
	"finereader",
	"fine reader",
	"omnipage",
	"readiris",
	"tesseract",
	"ocrmypdf",
	"adobe acrobat",
}

// Analysis is the immutable result of inspecting one PDF.
type Analysis struct {
	IsDigital bool   `json:"is_digital"`
	NeedsOCR  bool   `json:"needs_ocr"`
	Encrypted bool   `json:"encrypted"`
	Text      string `json:"-"`
	PageCount int    `json:"page_count"`
	Producer  string `json:"producer,omitempty"`
}

// Inspect opens the PDF at path, samples its text layer, and decides
// whether OCR is required. Encrypted documents are not an error: they
// report NeedsOCR with an empty text layer.
func Inspect(path string) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		if isEncryptionError(err) {
			return &Analysis{Encrypted: true, NeedsOCR: true}, nil
		}
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := ctx.PageCount
	producer := strings.ToLower(ctx.Producer + " " + ctx.Creator)

	firstPass := pages
	partial := false
	if pages > samplePageLimit {
		firstPass = sampleMaxPages
		partial = true
	}

	text := stripPages(ctx, firstPass)
	chars := len([]rune(text))

	usable := textLayerUsable(chars, pages, producer)
	if usable && partial {
		text = stripPages(ctx, pages)
	}

	return &Analysis{
		IsDigital: usable,
		NeedsOCR:  !usable,
		Text:      text,
		PageCount: pages,
		Producer:  ctx.Producer,
	}, nil
}

// textLayerUsable is the OCR decision. Density divides by the sample
// window (at most sampleMaxPages) so long documents are judged on the
// pages actually read.
func textLayerUsable(chars, pages int, producer string) bool {
	window := pages
	if window > sampleMaxPages {
		window = sampleMaxPages
	}
	if window < 1 {
		window = 1
	}
	density := float64(chars) / float64(window)

	good := chars > minGoodChars && density > minCharsPerPage
	if !good && chars > minProducerChars && fromOCRProducer(producer) {
		good = true
	}
	return good
}

func fromOCRProducer(producer string) bool {
	for _, p := range ocrProducers {
		if strings.Contains(producer, p) {
			return true
		}
	}
	return false
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") || strings.Contains(msg, "password")
}
