package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Runner executes an external command and captures its output.
// Abstracted so tests can fake tesseract.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if r.logger != nil {
		r.logger.Debug("extractor: command finished",
			"cmd", name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// ocrFile runs tesseract over a single raster file and returns the
// recognized text.
func (e *Engine) ocrFile(ctx context.Context, path string) (string, error) {
	stdout, _, err := e.runner.Run(ctx, e.config.TesseractBin,
		path, "stdout", "-l", e.config.OCRLanguages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

// ocrPDF extracts the embedded page images of a scanned PDF and runs OCR
// over each. Per-image failures degrade to warnings.
func (e *Engine) ocrPDF(ctx context.Context, path string) (string, []string) {
	if !e.config.PDFImageOCR {
		return "", []string{"scanned PDF: image OCR disabled"}
	}

	tmpDir, err := os.MkdirTemp("", "inboxd-ocr-*")
	if err != nil {
		return "", []string{fmt.Sprintf("OCR temp dir: %v", err)}
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(path, tmpDir, nil, conf); err != nil {
		return "", []string{fmt.Sprintf("PDF image extraction failed: %v", err)}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil || len(entries) == 0 {
		return "", []string{"scanned PDF contains no extractable images"}
	}

	names := make([]string, 0, len(entries))
	for _, en := range entries {
		if !en.IsDir() {
			names = append(names, en.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	var warnings []string
	for _, name := range names {
		text, err := e.ocrFile(ctx, filepath.Join(tmpDir, name))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("OCR failed for page image %s: %v", name, err))
			continue
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String(), warnings
}
