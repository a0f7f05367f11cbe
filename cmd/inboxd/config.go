package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from one YAML file.
type Config struct {
	// DataDir is the root holding inbox/ and temp/.
	DataDir         string `yaml:"data_dir"`
	CatalogDB       string `yaml:"catalog_db"`
	ObservabilityDB string `yaml:"observability_db"`
	Listen          string `yaml:"listen"`
	LogLevel        string `yaml:"log_level"`

	Sweep struct {
		Interval time.Duration `yaml:"interval"`
		Sources  []string      `yaml:"sources"`
	} `yaml:"sweep"`

	OCR struct {
		Languages        string `yaml:"languages"`
		Binary           string `yaml:"binary"`
		ExtractPDFImages bool   `yaml:"extract_pdf_images"`
	} `yaml:"ocr"`

	Embed struct {
		MaxResourceMB int           `yaml:"max_resource_mb"`
		Timeout       time.Duration `yaml:"timeout"`
		UserAgent     string        `yaml:"user_agent"`
	} `yaml:"embed"`

	Classify struct {
		Heuristic StrategySettings `yaml:"heuristic"`
		Ollama    OllamaSettings   `yaml:"ollama"`
	} `yaml:"classify"`

	MCP struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"mcp"`
}

// StrategySettings enables and orders one classification strategy.
type StrategySettings struct {
	Enabled    bool `yaml:"enabled"`
	Preference int  `yaml:"preference"`
}

// OllamaSettings configures the LLM strategy.
type OllamaSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Preference    int           `yaml:"preference"`
	URL           string        `yaml:"url"`
	Model         string        `yaml:"model"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:  "./data",
		Listen:   ":8095",
		LogLevel: "info",
	}
	cfg.Sweep.Interval = 2 * time.Second
	cfg.Sweep.Sources = []string{"mail", "scan", "upload"}
	cfg.OCR.Languages = "deu+eng"
	cfg.OCR.Binary = "tesseract"
	cfg.OCR.ExtractPDFImages = true
	cfg.Embed.MaxResourceMB = 15
	cfg.Embed.Timeout = 30 * time.Second
	cfg.Classify.Heuristic = StrategySettings{Enabled: true, Preference: 10}
	cfg.Classify.Ollama = OllamaSettings{
		Preference:    1,
		URL:           "http://localhost:11434",
		Model:         "llama3",
		MaxConcurrent: 1,
		Timeout:       120 * time.Second,
	}
	return cfg
}

// LoadConfig reads the YAML file at path over the defaults. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for startup-blocking mistakes.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	if len(c.Sweep.Sources) == 0 {
		return errors.New("sweep.sources must not be empty")
	}
	if !c.Classify.Heuristic.Enabled && !c.Classify.Ollama.Enabled {
		return errors.New("at least one classification strategy must be enabled")
	}
	if c.Classify.Ollama.Enabled && c.Classify.Ollama.URL == "" {
		return errors.New("classify.ollama.url is required when enabled")
	}
	if c.CatalogDB == "" {
		c.CatalogDB = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.ObservabilityDB == "" {
		c.ObservabilityDB = filepath.Join(c.DataDir, "observability.db")
	}
	return nil
}

// InboxDir is the drop folder root.
func (c *Config) InboxDir() string { return filepath.Join(c.DataDir, "inbox") }

// TempDir is the staging root.
func (c *Config) TempDir() string { return filepath.Join(c.DataDir, "temp") }
