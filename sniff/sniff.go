// Package sniff determines the content type of staged files.
//
// A short magic-byte table answers the common cases (PDF, PNG, JPEG)
// without reading more than a few bytes. ZIP containers deliberately fall
// through to deep detection because the PK signature alone cannot tell an
// Office document from a plain archive. Everything the table does not
// recognize goes to gabriel-vasile/mimetype.
package sniff

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackMIME is reported when no detector recognizes the content.
const FallbackMIME = "application/octet-stream"

// magicHeaderLen is how many leading bytes the signature table inspects.
const magicHeaderLen = 8

type signature struct {
	prefix []byte
	mime   string
}

// Signatures checked in order. ZIP is absent on purpose: PK\x03\x04 must
// reach the deep detector so docx/odt resolve to their real types.
var signatures = []signature{
	{[]byte("%PDF"), "application/pdf"},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
}

var zipPrefix = []byte{0x50, 0x4B, 0x03, 0x04}

// DetectFile sniffs the MIME type of the file at path. The original
// filename decides only one case: a .eml suffix forces message/rfc822,
// since email files have no usable magic bytes.
func DetectFile(path, originalName string) (string, error) {
	if strings.EqualFold(filepath.Ext(originalName), ".eml") {
		return "message/rfc822", nil
	}

	header, err := readHeader(path)
	if err != nil {
		return "", fmt.Errorf("read header: %w", err)
	}

	if m := matchSignature(header); m != "" {
		return m, nil
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("deep detection: %w", err)
	}
	if mt == nil || mt.String() == "" {
		return FallbackMIME, nil
	}
	// Strip parameters such as "; charset=utf-8".
	m := mt.String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m, nil
}

// matchSignature returns the MIME for a recognized magic prefix, or ""
// when unknown or a ZIP container (which needs deep inspection).
func matchSignature(header []byte) string {
	if bytes.HasPrefix(header, zipPrefix) {
		return ""
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(header, sig.prefix) {
			return sig.mime
		}
	}
	return ""
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, magicHeaderLen)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// wellKnownExts maps MIME types whose mimetype extension lookup is absent
// or surprising to the extension the rest of the pipeline expects.
var wellKnownExts = map[string]string{
	"message/rfc822": ".eml",
	"text/plain":     ".txt",
}

// ExtensionFor returns the canonical file extension (with leading dot)
// for a MIME type, or ".bin" when none is known.
func ExtensionFor(mime string) string {
	if ext, ok := wellKnownExts[mime]; ok {
		return ext
	}
	if mt := mimetype.Lookup(mime); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}
