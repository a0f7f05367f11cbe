// Package mailembed rewrites email messages so externally referenced
// resources (images, stylesheets) become inline MIME parts. The result is
// a self-contained multipart/related message that renders without network
// access, years after the original hosts are gone.
package mailembed

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tidemill/inboxd/fetch"
)

// embeddedHeader marks messages and parts rewritten by this package.
const embeddedHeader = "X-Inboxd-Embedded"

// embeddedFilePrefix names resource parts so later pipeline stages can
// recognize and skip them.
const embeddedFilePrefix = "_embed_"

// contentIDLen is the hex length of a resource content ID (sha256 prefix).
const contentIDLen = 12

// Config configures the embedder.
type Config struct {
	// MaxResourceBytes caps each downloaded resource. Default: 15MB.
	MaxResourceBytes int64
	// Timeout per resource download. Default: 30s.
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
	// Fetcher overrides the default HTTP fetcher (tests).
	Fetcher *fetch.Fetcher
}

func (c *Config) defaults() {
	if c.MaxResourceBytes <= 0 {
		c.MaxResourceBytes = 15 * 1024 * 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Embedder downloads and inlines external email resources.
type Embedder struct {
	config  Config
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// New creates an Embedder.
func New(cfg Config) *Embedder {
	cfg.defaults()
	f := cfg.Fetcher
	if f == nil {
		f = fetch.New(fetch.Config{
			Timeout:   cfg.Timeout,
			MaxBytes:  cfg.MaxResourceBytes,
			UserAgent: cfg.UserAgent,
		})
	}
	return &Embedder{config: cfg, fetcher: f, logger: cfg.Logger}
}

// Result reports what one embedding run did.
type Result struct {
	Embedded int      `json:"embedded"`
	Failed   int      `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

// part is one node of a parsed MIME tree. Leaf bodies stay in their
// original transfer encoding; only the rewritten HTML part is re-encoded.
type part struct {
	header    textproto.MIMEHeader
	mediaType string
	params    map[string]string
	raw       []byte
	children  []*part
}

// EmbedExternalResources rewrites the message file at path in place.
// Per-resource download failures are warnings; the message is rewritten
// only when at least one resource embeds. A message without an HTML body
// or without external references is left untouched.
func (e *Embedder) EmbedExternalResources(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse message: %w", err)
	}
	body, err := io.ReadAll(msg.Body)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	root, err := parsePart(headerOf(msg.Header), body)
	if err != nil {
		return nil, fmt.Errorf("parse mime tree: %w", err)
	}

	htmlPart := findHTML(root)
	if htmlPart == nil {
		return &Result{}, nil
	}

	htmlText, err := decodedBody(htmlPart)
	if err != nil {
		return nil, fmt.Errorf("decode html part: %w", err)
	}

	urls := ScanResourceURLs(htmlText)
	if len(urls) == 0 {
		return &Result{}, nil
	}

	res := &Result{}
	resources := make([]*part, 0, len(urls))
	seenCID := make(map[string]struct{})

	for _, u := range urls {
		r, err := e.fetcher.Get(ctx, u)
		if err != nil {
			res.Failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("resource download failed: %s: %v", u, err))
			e.logger.Debug("mailembed: resource fetch failed", "url", u, "error", err)
			continue
		}

		cid := contentID(r.Body)
		htmlText = strings.ReplaceAll(htmlText, u, "cid:"+cid)

		if _, dup := seenCID[cid]; dup {
			continue
		}
		seenCID[cid] = struct{}{}
		resources = append(resources, resourcePart(cid, r.Body))
		res.Embedded++
	}

	if res.Embedded == 0 {
		return res, nil
	}

	rewriteHTML(htmlPart, htmlText)
	newRoot := attachResources(root, resources)

	out, err := serializeMessage(msg.Header, newRoot)
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	if err := atomicReplace(path, out); err != nil {
		return nil, err
	}

	e.logger.Info("mailembed: resources embedded",
		"path", filepath.Base(path), "embedded", res.Embedded, "failed", res.Failed)
	return res, nil
}

// parsePart builds the MIME tree. Multipart bodies are split with
// NextRawPart so leaf transfer encodings survive untouched.
func parsePart(header textproto.MIMEHeader, body []byte) (*part, error) {
	p := &part{header: header, mediaType: "text/plain", raw: body}
	if ct := header.Get("Content-Type"); ct != "" {
		if mt, params, err := mime.ParseMediaType(ct); err == nil {
			p.mediaType = mt
			p.params = params
		}
	}

	if !strings.HasPrefix(p.mediaType, "multipart/") {
		return p, nil
	}
	boundary := p.params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart %s without boundary", p.mediaType)
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		sub, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next part: %w", err)
		}
		subBody, err := io.ReadAll(sub)
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		child, err := parsePart(sub.Header, subBody)
		if err != nil {
			return nil, err
		}
		p.children = append(p.children, child)
	}
	p.raw = nil
	return p, nil
}

// findHTML locates the first text/html leaf, depth first.
func findHTML(p *part) *part {
	if p.mediaType == "text/html" {
		return p
	}
	for _, c := range p.children {
		if h := findHTML(c); h != nil {
			return h
		}
	}
	return nil
}

func decodedBody(p *part) (string, error) {
	cte := strings.ToLower(strings.TrimSpace(p.header.Get("Content-Transfer-Encoding")))
	switch cte {
	case "base64":
		data, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(p.raw)))
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "quoted-printable":
		data, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(p.raw)))
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return string(p.raw), nil
	}
}

// rewriteHTML swaps in the rewritten body, re-encoded quoted-printable.
func rewriteHTML(p *part, html string) {
	var buf bytes.Buffer
	qw := quotedprintable.NewWriter(&buf)
	qw.Write([]byte(html))
	qw.Close()
	p.raw = buf.Bytes()
	p.header.Set("Content-Transfer-Encoding", "quoted-printable")
	if p.header.Get("Content-Type") == "" {
		p.header.Set("Content-Type", "text/html; charset=utf-8")
	}
}

// contentID derives a stable resource ID from content bytes.
func contentID(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%x", sum)[:contentIDLen]
}

// resourcePart builds an inline MIME part for a downloaded resource.
func resourcePart(cid string, body []byte) *part {
	mt := mimetype.Detect(body)
	ext := mt.Extension()
	if ext == "" {
		ext = ".bin"
	}
	filename := embeddedFilePrefix + cid + ext

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mt.String())
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-ID", "<"+cid+">")
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	h.Set(embeddedHeader, "true")

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(encoded, body)
	return &part{
		header:    h,
		mediaType: mt.String(),
		raw:       wrapBase64(encoded),
	}
}

// wrapBase64 folds base64 output at 76 columns per RFC 2045.
func wrapBase64(data []byte) []byte {
	const lineLen = 76
	var buf bytes.Buffer
	for len(data) > 0 {
		n := lineLen
		if n > len(data) {
			n = len(data)
		}
		buf.Write(data[:n])
		buf.WriteString("\r\n")
		data = data[n:]
	}
	return buf.Bytes()
}

// attachResources produces the new root part.
//
// An existing multipart/related gains the resources directly. Any other
// multipart root is wrapped in a fresh multipart/related. A single-part
// message becomes multipart/related over the old body.
func attachResources(root *part, resources []*part) *part {
	if root.mediaType == "multipart/related" {
		root.children = append(root.children, resources...)
		return root
	}

	// The old root descends one level; only its Content-* headers belong
	// on a nested part.
	root.header = contentHeaders(root.header)

	related := &part{
		header:    make(textproto.MIMEHeader),
		mediaType: "multipart/related",
	}
	related.children = append(related.children, root)
	related.children = append(related.children, resources...)
	return related
}

func contentHeaders(h textproto.MIMEHeader) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader)
	for k, v := range h {
		if strings.HasPrefix(k, "Content-") {
			out[k] = v
		}
	}
	return out
}

// serializePart renders a part's body and returns it with the value the
// enclosing Content-Type header must carry.
func serializePart(p *part) ([]byte, string, error) {
	if len(p.children) == 0 {
		ct := p.header.Get("Content-Type")
		if ct == "" {
			ct = p.mediaType
		}
		return p.raw, ct, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, c := range p.children {
		body, ct, err := serializePart(c)
		if err != nil {
			return nil, "", err
		}
		h := cloneHeader(c.header)
		h.Set("Content-Type", ct)
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(body); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("%s; boundary=%q", p.mediaType, mw.Boundary()), nil
}

// serializeMessage writes top-level headers (minus the structural ones
// replaced by the new root) followed by the rendered body.
func serializeMessage(orig mail.Header, root *part) ([]byte, error) {
	body, contentType, err := serializePart(root)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for key, values := range orig {
		switch textproto.CanonicalMIMEHeaderKey(key) {
		case "Content-Type", "Content-Transfer-Encoding", "Mime-Version", embeddedHeader:
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, v)
		}
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&buf, "%s: true\r\n", embeddedHeader)
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// atomicReplace writes data to a temp file in the same directory and
// renames it over path.
func atomicReplace(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".embed-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func headerOf(h mail.Header) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(h))
	for k, v := range h {
		out[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	return out
}

func cloneHeader(h textproto.MIMEHeader) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}
