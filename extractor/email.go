package extractor

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"
	"time"
)

// embeddedPartPrefix marks resource parts added by the embedding stage.
// They are binary duplicates of inline content and carry no text.
const embeddedPartPrefix = "_embed_"

const maxEmailDepth = 10

// EmailContent is the text extracted from one RFC 822 message.
type EmailContent struct {
	Subject     string
	From        string
	To          []string
	Date        time.Time
	Bodies      []Body
	Attachments []Attachment
	Warnings    []string
}

// Body is one textual message part.
type Body struct {
	MIME string
	Text string
}

// Attachment is the extracted text of one named attachment.
type Attachment struct {
	Filename string
	Text     string
}

// ExtractEmail parses the message at path and extracts header metadata,
// body text, and attachment text. Attachment extraction is best-effort:
// failures become warnings on the result.
func (e *Engine) ExtractEmail(ctx context.Context, path string) (*EmailContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	dec := new(mime.WordDecoder)
	out := &EmailContent{
		Subject: decodeHeader(dec, msg.Header.Get("Subject")),
		From:    decodeHeader(dec, msg.Header.Get("From")),
	}
	if addrs, err := msg.Header.AddressList("To"); err == nil {
		for _, a := range addrs {
			out.To = append(out.To, a.String())
		}
	}
	if d, err := msg.Header.Date(); err == nil {
		out.Date = d
	}

	e.walkEmailPart(ctx,
		msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"),
		"", msg.Body, out, 0)

	return out, nil
}

func (e *Engine) walkEmailPart(ctx context.Context, contentType, cte, filename string, body io.Reader, out *EmailContent, depth int) {
	if depth > maxEmailDepth {
		return
	}

	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		if mt, p, err := mime.ParseMediaType(contentType); err == nil {
			mediaType, params = mt, p
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			out.Warnings = append(out.Warnings, "multipart section without boundary")
			return
		}
		mr := multipart.NewReader(body, boundary)
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			e.walkEmailPart(ctx,
				p.Header.Get("Content-Type"),
				p.Header.Get("Content-Transfer-Encoding"),
				p.FileName(), p, out, depth+1)
		}
		return
	}

	if strings.HasPrefix(filename, embeddedPartPrefix) {
		return
	}

	r := decodeCTE(body, cte)

	// Named parts are attachments, whatever their type.
	if filename != "" {
		e.extractAttachment(ctx, mediaType, filename, r, out)
		return
	}

	switch {
	case mediaType == "text/html":
		data, err := io.ReadAll(r)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("read html part: %v", err))
			return
		}
		if text := e.HTMLToText(string(data)); text != "" {
			out.Bodies = append(out.Bodies, Body{MIME: mediaType, Text: text})
		}

	case strings.HasPrefix(mediaType, "text/"):
		data, err := io.ReadAll(r)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("read text part: %v", err))
			return
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			out.Bodies = append(out.Bodies, Body{MIME: mediaType, Text: text})
		}

	default:
		// Unnamed binary part: nothing to extract.
	}
}

// extractAttachment spools a binary part to disk and runs the regular
// extraction dispatch over it.
func (e *Engine) extractAttachment(ctx context.Context, mediaType, filename string, r io.Reader, out *EmailContent) {
	tmp, err := os.CreateTemp("", "inboxd-att-*")
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("attachment %s: %v", filename, err))
		return
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, r)
	tmp.Close()
	if copyErr != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("attachment %s: %v", filename, copyErr))
		return
	}

	text, warns, err := e.Extract(ctx, tmp.Name(), mediaType, nil)
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("attachment extraction failed: %s: %v", filename, err))
		return
	}
	out.Warnings = append(out.Warnings, warns...)
	if strings.TrimSpace(text) != "" {
		out.Attachments = append(out.Attachments, Attachment{Filename: filename, Text: text})
	}
}

// decodeCTE wraps r with the decoder for a Content-Transfer-Encoding.
func decodeCTE(r io.Reader, cte string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		// The base64 decoder skips \r and \n on its own.
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeHeader(dec *mime.WordDecoder, v string) string {
	if v == "" {
		return ""
	}
	if s, err := dec.DecodeHeader(v); err == nil {
		return s
	}
	return v
}
