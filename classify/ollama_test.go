package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllama_Analyze(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		if req.Model != "llama3" {
			t.Errorf("model = %q", req.Model)
		}
		gotPrompt = req.Prompt

		answer := `Here is my assessment: {"context_uuid":"ctx-9","category_uuid":"cat-2","summary":"Invoice for March","document_date":"2024-03-12","confidence":0.9} Hope that helps.`
		json.NewEncoder(w).Encode(generateResponse{Response: answer})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{URL: srv.URL, Model: "llama3"})
	p, err := o.Analyze(context.Background(), Input{
		Text:     "Rechnung März 2024",
		Filename: "rechnung.pdf",
		Candidates: Candidates{
			Contexts: []Candidate{{UUID: "ctx-9", Name: "Buchhaltung", Description: "Rechnungen und Belege"}},
		},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if p.ContextUUID != "ctx-9" || p.CategoryUUID != "cat-2" {
		t.Errorf("prediction = %+v", p)
	}
	if p.DocumentDate != "2024-03-12" {
		t.Errorf("DocumentDate = %q", p.DocumentDate)
	}
	if p.Strategy != "ollama" {
		t.Errorf("Strategy = %q", p.Strategy)
	}

	if !strings.Contains(gotPrompt, "- Buchhaltung (ID: ctx-9) : Rechnungen und Belege") {
		t.Errorf("candidate line missing from prompt:\n%s", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "rechnung.pdf") {
		t.Error("filename missing from prompt")
	}
}

func TestOllama_TruncatesPrompt(t *testing.T) {
	o := NewOllama(OllamaConfig{URL: "http://unused", MaxPromptChars: 100})
	long := strings.Repeat("x", 10_000)
	prompt := o.buildPrompt(Input{Text: long})
	if strings.Count(prompt, "x") != 100 {
		t.Errorf("text not truncated to 100 chars, got %d", strings.Count(prompt, "x"))
	}
}

func TestOllama_NoJSONInAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "I cannot classify this document."})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{URL: srv.URL, Model: "llama3"})
	if _, err := o.Analyze(context.Background(), Input{Text: "x"}); err == nil {
		t.Fatal("expected error for answer without JSON")
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`prefix {"a":1} suffix`, `{"a":1}`},
		{`{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{`no json here`, ""},
	}
	for _, tt := range tests {
		if got := extractJSONObject(tt.in); got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidatePredictionJSON(t *testing.T) {
	valid := `{"context_uuid":"c","summary":"s","document_date":"2024-01-02","confidence":0.5}`
	if err := ValidatePredictionJSON([]byte(valid)); err != nil {
		t.Fatalf("valid doc rejected: %v", err)
	}

	badDate := `{"document_date":"12.03.2024"}`
	if err := ValidatePredictionJSON([]byte(badDate)); err == nil {
		t.Fatal("expected schema error for bad date format")
	}

	badType := `{"confidence":"high"}`
	if err := ValidatePredictionJSON([]byte(badType)); err == nil {
		t.Fatal("expected schema error for string confidence")
	}
}
