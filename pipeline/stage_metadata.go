package pipeline

import (
	"bufio"
	"context"
	"mime"
	"net/mail"
	"os"
)

type metadataStage struct{}

// NewMetadataStage pulls header metadata out of email jobs. Everything
// here is best-effort: a malformed message still flows on to extraction.
func NewMetadataStage() Stage {
	return &metadataStage{}
}

func (s *metadataStage) Name() string { return "metadata" }
func (s *metadataStage) Order() int   { return 30 }

func (s *metadataStage) Execute(_ context.Context, jc *Context) (Outcome, error) {
	if jc.MIME != "message/rfc822" {
		return Continue, nil
	}

	f, err := os.Open(jc.ContentFile)
	if err != nil {
		return Continue, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		jc.Warn("email header parse failed: %v", err)
		return Continue, nil
	}

	dec := new(mime.WordDecoder)
	meta := &EmailMetadata{}

	if subj, err := dec.DecodeHeader(msg.Header.Get("Subject")); err == nil {
		meta.Subject = subj
	} else {
		meta.Subject = msg.Header.Get("Subject")
	}
	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		meta.Sender = from.Address
	}
	if tos, err := msg.Header.AddressList("To"); err == nil {
		for _, a := range tos {
			meta.Recipients = append(meta.Recipients, a.Address)
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		meta.SentDate = date
	}

	jc.Email = meta
	jc.Logger.Debug("pipeline: email metadata parsed",
		"subject", meta.Subject, "sender", meta.Sender, "recipients", len(meta.Recipients))
	return Continue, nil
}
