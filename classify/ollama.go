package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the local-LLM strategy.
type OllamaConfig struct {
	// URL of the Ollama server, e.g. "http://localhost:11434".
	URL   string
	Model string
	// Timeout per generation call. Default: 120s.
	Timeout time.Duration
	// MaxConcurrent bounds parallel generations (GPU protection). Default: 1.
	MaxConcurrent int
	// MaxPromptChars truncates document text in the prompt. Default: 6000.
	MaxPromptChars int
	Logger         *slog.Logger
}

func (c *OllamaConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 6000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ollama asks a local LLM for a filing suggestion.
type Ollama struct {
	config OllamaConfig
	client *http.Client
	sem    chan struct{}
}

// NewOllama creates the strategy.
func NewOllama(cfg OllamaConfig) *Ollama {
	cfg.defaults()
	return &Ollama{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Name implements Strategy.
func (o *Ollama) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// wirePrediction is the JSON shape the model is prompted to answer with.
type wirePrediction struct {
	ContextUUID  string            `json:"context_uuid"`
	CategoryUUID string            `json:"category_uuid"`
	Summary      string            `json:"summary"`
	DocumentDate string            `json:"document_date"`
	Confidence   float64           `json:"confidence"`
	Attributes   map[string]string `json:"attributes"`
}

// Analyze implements Strategy. The call holds a concurrency permit for
// its whole duration.
func (o *Ollama) Analyze(ctx context.Context, in Input) (*Prediction, error) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	prompt := o.buildPrompt(in)
	body, err := json.Marshal(generateRequest{Model: o.config.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(o.config.URL, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: http %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	o.config.Logger.Debug("classify: ollama answered",
		"model", o.config.Model, "duration_ms", time.Since(start).Milliseconds())

	raw := extractJSONObject(gen.Response)
	if raw == "" {
		return nil, fmt.Errorf("ollama: no JSON object in answer")
	}

	// Lenient validation: a schema violation is logged, the parse still
	// runs. Models drift; a wrong extra field must not lose the run.
	if err := ValidatePredictionJSON([]byte(raw)); err != nil {
		o.config.Logger.Warn("classify: ollama answer failed schema validation", "error", err)
	}

	var wire wirePrediction
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("parse prediction: %w", err)
	}

	return &Prediction{
		ContextUUID:  wire.ContextUUID,
		CategoryUUID: wire.CategoryUUID,
		Summary:      wire.Summary,
		DocumentDate: wire.DocumentDate,
		Confidence:   wire.Confidence,
		Attributes:   wire.Attributes,
		Strategy:     o.Name(),
	}, nil
}

// buildPrompt renders the instruction with candidate lists and the
// truncated document text.
func (o *Ollama) buildPrompt(in Input) string {
	text := in.Text
	if runes := []rune(text); len(runes) > o.config.MaxPromptChars {
		text = string(runes[:o.config.MaxPromptChars])
	}

	var sb strings.Builder
	sb.WriteString("You are a document filing assistant. ")
	sb.WriteString("Assign the document below to one of the given folders and categories.\n\n")
	sb.WriteString("Folders:\n")
	writeCandidates(&sb, in.Candidates.Contexts)
	sb.WriteString("\nCategories:\n")
	writeCandidates(&sb, in.Candidates.Categories)
	sb.WriteString("\nAnswer with a single JSON object with the fields ")
	sb.WriteString(`"context_uuid", "category_uuid", "summary", "document_date" (YYYY-MM-DD), "confidence" (0..1), "attributes".`)
	sb.WriteString("\n\nFilename: ")
	sb.WriteString(in.Filename)
	sb.WriteString("\n\nDocument text:\n")
	sb.WriteString(text)
	return sb.String()
}

func writeCandidates(sb *strings.Builder, cs []Candidate) {
	for _, c := range cs {
		fmt.Fprintf(sb, "- %s (ID: %s)", c.Name, c.UUID)
		if c.Description != "" {
			fmt.Fprintf(sb, " : %s", c.Description)
		}
		sb.WriteByte('\n')
	}
}

// extractJSONObject cuts the substring between the first '{' and the
// last '}' of a model answer, tolerating prose around the JSON.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
