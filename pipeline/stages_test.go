package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidemill/inboxd/classify"
)

type fakeIndex struct {
	matches map[string]string
	err     error
}

func (f *fakeIndex) FindDuplicate(_ context.Context, sha256 string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.matches[sha256], nil
}

func testContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		Hash:         "hash",
		WorkingDir:   t.TempDir(),
		OriginalName: "doc.txt",
		Logger:       slog.Default(),
	}
}

func TestDuplicateStage(t *testing.T) {
	stage := NewDuplicateStage(&fakeIndex{matches: map[string]string{"known": "itm_7"}})

	jc := testContext(t)
	jc.Hash = "known"
	out, err := stage.Execute(context.Background(), jc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if id, dup := out.IsDuplicate(); !dup || id != "itm_7" {
		t.Errorf("outcome = %+v", out)
	}

	jc.Hash = "fresh"
	out, err = stage.Execute(context.Background(), jc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, dup := out.IsDuplicate(); dup {
		t.Error("fresh content flagged as duplicate")
	}
}

func TestDuplicateStage_LookupErrorIsFatal(t *testing.T) {
	stage := NewDuplicateStage(&fakeIndex{err: errors.New("db locked")})
	if _, err := stage.Execute(context.Background(), testContext(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestSniffStage(t *testing.T) {
	jc := testContext(t)
	jc.ContentFile = filepath.Join(jc.WorkingDir, "hash.pdf")
	if err := os.WriteFile(jc.ContentFile, []byte("%PDF-1.7 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	stage := NewSniffStage()
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if jc.MIME != "application/pdf" {
		t.Errorf("MIME = %q", jc.MIME)
	}
	if jc.Extension != ".pdf" {
		t.Errorf("Extension = %q", jc.Extension)
	}
}

func TestMetadataStage_Email(t *testing.T) {
	jc := testContext(t)
	jc.MIME = "message/rfc822"
	jc.ContentFile = filepath.Join(jc.WorkingDir, "hash.eml")

	msg := "From: Erika Mustermann <erika@example.org>\r\n" +
		"To: buero@example.com, archiv@example.com\r\n" +
		"Subject: =?UTF-8?Q?Vertragsentwurf_f=C3=BCr_Q3?=\r\n" +
		"Date: Mon, 04 Mar 2024 10:30:00 +0100\r\n" +
		"Content-Type: text/plain\r\n\r\nHallo\r\n"
	if err := os.WriteFile(jc.ContentFile, []byte(msg), 0o644); err != nil {
		t.Fatal(err)
	}

	stage := NewMetadataStage()
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if jc.Email == nil {
		t.Fatal("Email metadata not set")
	}
	if jc.Email.Subject != "Vertragsentwurf für Q3" {
		t.Errorf("Subject = %q", jc.Email.Subject)
	}
	if jc.Email.Sender != "erika@example.org" {
		t.Errorf("Sender = %q", jc.Email.Sender)
	}
	if len(jc.Email.Recipients) != 2 {
		t.Errorf("Recipients = %v", jc.Email.Recipients)
	}
	if jc.Email.SentDate.IsZero() {
		t.Error("SentDate not parsed")
	}
}

func TestMetadataStage_SkipsNonEmail(t *testing.T) {
	jc := testContext(t)
	jc.MIME = "application/pdf"

	stage := NewMetadataStage()
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if jc.Email != nil {
		t.Errorf("Email = %+v, want nil", jc.Email)
	}
}

type fakeCandidates struct {
	cand *classify.Candidates
	err  error
}

func (f *fakeCandidates) FetchCandidates(context.Context) (*classify.Candidates, error) {
	return f.cand, f.err
}

func classifySelector(t *testing.T) *classify.Selector {
	t.Helper()
	sel := classify.NewSelector()
	sel.Register(classify.NewHeuristic(), classify.StrategyConfig{Enabled: true, Preference: 1})
	return sel
}

func TestClassifyStage(t *testing.T) {
	source := &fakeCandidates{cand: &classify.Candidates{
		Contexts: []classify.Candidate{{UUID: "ctx-1", Name: "Versicherung"}},
	}}
	stage := NewClassifyStage(classifySelector(t), source)

	jc := testContext(t)
	jc.Text = "Ihre Versicherung wurde verlängert"
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if jc.Prediction == nil || jc.Prediction.ContextUUID != "ctx-1" {
		t.Errorf("Prediction = %+v", jc.Prediction)
	}
}

func TestClassifyStage_NoStrategyIsFatal(t *testing.T) {
	sel := classify.NewSelector()
	stage := NewClassifyStage(sel, &fakeCandidates{cand: &classify.Candidates{}})

	if _, err := stage.Execute(context.Background(), testContext(t)); err == nil {
		t.Fatal("expected error when no strategy is enabled")
	}
}

func TestClassifyStage_CandidateFetchFailureIsWarning(t *testing.T) {
	stage := NewClassifyStage(classifySelector(t), &fakeCandidates{err: errors.New("db gone")})

	jc := testContext(t)
	jc.Text = "irgendwas"
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(jc.Warnings) == 0 {
		t.Error("expected a warning for failed candidate fetch")
	}
}

func TestClassifyStage_EmailMetadataSeedsPrediction(t *testing.T) {
	stage := NewClassifyStage(classifySelector(t), &fakeCandidates{cand: &classify.Candidates{}})

	jc := testContext(t)
	jc.Text = "Text ohne Datum"
	jc.Email = &EmailMetadata{
		Sender:     "erika@example.org",
		Recipients: []string{"buero@example.com"},
		SentDate:   time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
	}
	if _, err := stage.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := jc.Prediction
	if p == nil {
		t.Fatal("no prediction")
	}
	if p.DocumentDate != "2024-03-04" {
		t.Errorf("DocumentDate = %q, want sent date", p.DocumentDate)
	}
	if p.Attributes[attrEmailSender] != "erika@example.org" {
		t.Errorf("sender attribute = %q", p.Attributes[attrEmailSender])
	}
	if p.Attributes[attrEmailRecipients] != "buero@example.com" {
		t.Errorf("recipients attribute = %q", p.Attributes[attrEmailRecipients])
	}
}
