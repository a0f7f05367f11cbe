package extractor

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

const testBoundary = "b0undary42"

func buildTestEmail(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("From: Anna Muster <anna@example.com>\r\n")
	sb.WriteString("To: office@example.org\r\n")
	sb.WriteString("Subject: =?UTF-8?Q?Vertragsentwurf_f=C3=BCr_Q3?=\r\n")
	sb.WriteString("Date: Tue, 12 Aug 2025 10:30:00 +0200\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/mixed; boundary=" + testBoundary + "\r\n")
	sb.WriteString("\r\n")

	sb.WriteString("--" + testBoundary + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString("Anbei der Entwurf.\r\n")

	sb.WriteString("--" + testBoundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	sb.WriteString("<html><body><p>Anbei der <b>Entwurf</b>.</p></body></html>\r\n")

	sb.WriteString("--" + testBoundary + "\r\n")
	sb.WriteString("Content-Type: text/plain\r\n")
	sb.WriteString("Content-Transfer-Encoding: base64\r\n")
	sb.WriteString("Content-Disposition: attachment; filename=\"notiz.txt\"\r\n\r\n")
	sb.WriteString(base64.StdEncoding.EncodeToString([]byte("Notiz zur Akte")) + "\r\n")

	// A previously embedded resource part: must be skipped.
	sb.WriteString("--" + testBoundary + "\r\n")
	sb.WriteString("Content-Type: image/png\r\n")
	sb.WriteString("Content-Disposition: inline; filename=\"_embed_abc123def456.png\"\r\n\r\n")
	sb.WriteString("rawpngbytes\r\n")

	sb.WriteString("--" + testBoundary + "--\r\n")
	return sb.String()
}

func TestExtractEmail(t *testing.T) {
	path := writeFile(t, "mail.eml", []byte(buildTestEmail(t)))
	e := New(Config{})

	ec, err := e.ExtractEmail(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractEmail: %v", err)
	}

	if ec.Subject != "Vertragsentwurf für Q3" {
		t.Errorf("Subject = %q", ec.Subject)
	}
	if !strings.Contains(ec.From, "anna@example.com") {
		t.Errorf("From = %q", ec.From)
	}
	if ec.Date.IsZero() {
		t.Error("Date not parsed")
	}

	// Plain and HTML bodies both present; base64 attachment decoded.
	var sawPlain, sawHTML bool
	for _, b := range ec.Bodies {
		if b.MIME == "text/plain" && strings.Contains(b.Text, "Anbei der Entwurf.") {
			sawPlain = true
		}
		if b.MIME == "text/html" && strings.Contains(b.Text, "Entwurf") {
			sawHTML = true
		}
	}
	if !sawPlain {
		t.Errorf("plain body missing: %+v", ec.Bodies)
	}
	if !sawHTML {
		t.Errorf("html body missing: %+v", ec.Bodies)
	}

	if len(ec.Attachments) != 1 {
		t.Fatalf("attachments = %+v", ec.Attachments)
	}
	if ec.Attachments[0].Filename != "notiz.txt" || !strings.Contains(ec.Attachments[0].Text, "Notiz zur Akte") {
		t.Errorf("attachment = %+v", ec.Attachments[0])
	}
}

func TestExtractEmail_SimpleBody(t *testing.T) {
	raw := "From: a@b.c\r\nSubject: hi\r\n\r\nplain single-part body\r\n"
	path := writeFile(t, "simple.eml", []byte(raw))
	e := New(Config{})

	ec, err := e.ExtractEmail(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractEmail: %v", err)
	}
	if len(ec.Bodies) != 1 || !strings.Contains(ec.Bodies[0].Text, "plain single-part body") {
		t.Fatalf("bodies = %+v", ec.Bodies)
	}
}
