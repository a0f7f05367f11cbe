// Package textlayer builds the structured text-layer artifact written next
// to every staged document. The format is a small XML dialect: a root
// element carrying the ingestion source, a block of metadata entries, and
// one CDATA content block per extracted body or attachment. Downstream
// indexing consumes this file instead of re-parsing the original document.
package textlayer

import (
	"strings"
)

// FileName is the artifact name inside a job directory.
const FileName = "textlayer.txt"

// Builder accumulates metadata and content blocks for one document.
type Builder struct {
	sb     strings.Builder
	closed bool
}

// New starts a document for the given ingestion source (mail, scan, upload).
func New(source string) *Builder {
	b := &Builder{}
	b.sb.WriteString(`<root source="`)
	b.sb.WriteString(escapeAttr(source))
	b.sb.WriteString("\">\n")
	return b
}

// Meta appends a metadata entry. Blank values are skipped so callers can
// pass through optional fields unconditionally.
func (b *Builder) Meta(name, value string) *Builder {
	value = strings.TrimSpace(value)
	if value == "" {
		return b
	}
	b.sb.WriteString(`<meta name="`)
	b.sb.WriteString(escapeAttr(name))
	b.sb.WriteString(`">`)
	b.sb.WriteString(escapeText(value))
	b.sb.WriteString("</meta>\n")
	return b
}

// Content appends a body content block typed by MIME. Blank text is skipped.
func (b *Builder) Content(mimeType, text string) *Builder {
	if strings.TrimSpace(text) == "" {
		return b
	}
	b.sb.WriteString(`<content type="`)
	b.sb.WriteString(escapeAttr(mimeType))
	b.sb.WriteString(`">`)
	writeCDATA(&b.sb, text)
	b.sb.WriteString("</content>\n")
	return b
}

// Attachment appends an attachment content block. Blank text is skipped.
func (b *Builder) Attachment(filename, text string) *Builder {
	if strings.TrimSpace(text) == "" {
		return b
	}
	b.sb.WriteString(`<attachment filename="`)
	b.sb.WriteString(escapeAttr(filename))
	b.sb.WriteString(`">`)
	writeCDATA(&b.sb, text)
	b.sb.WriteString("</attachment>\n")
	return b
}

// String closes the root element and returns the document.
func (b *Builder) String() string {
	if !b.closed {
		b.sb.WriteString("</root>\n")
		b.closed = true
	}
	return b.sb.String()
}

// writeCDATA wraps text in a CDATA section, splitting any literal "]]>"
// so the section cannot be terminated early.
func writeCDATA(sb *strings.Builder, text string) {
	sb.WriteString("<![CDATA[")
	sb.WriteString(strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>"))
	sb.WriteString("]]>")
}

func escapeAttr(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

func escapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
