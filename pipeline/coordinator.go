// Package pipeline runs staged inbound files through the ordered
// ingestion stages: duplicate guard, content sniffing, metadata,
// extraction, email resource embedding and classification.
//
// A run is driven by the Coordinator, accumulates state on a Context,
// and ends in exactly one terminal record (READY, ERROR or DUPLICATE)
// written into the job directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidemill/inboxd/textlayer"
)

// Config wires a Coordinator.
type Config struct {
	// TempDir is the root holding one job directory per content hash.
	TempDir string
	Stages  []Stage
	Events  Sink
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator executes the stage sequence for one job at a time per
// call. Callers run concurrent jobs on their own goroutines.
type Coordinator struct {
	config Config
	stages []Stage
}

// NewCoordinator sorts the stages by Order and returns the runner.
func NewCoordinator(cfg Config) *Coordinator {
	cfg.defaults()
	stages := make([]Stage, len(cfg.Stages))
	copy(stages, cfg.Stages)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Order() < stages[j].Order() })
	return &Coordinator{config: cfg, stages: stages}
}

// Run executes the pipeline for the job directory temp/<hash>. The
// returned record is also persisted as pipeline.json and published on
// the event sink. A job that already carries a terminal record is
// returned as-is without re-running.
func (co *Coordinator) Run(ctx context.Context, hash string) (*StatusRecord, error) {
	dir := filepath.Join(co.config.TempDir, hash)
	log := co.config.Logger.With("sha256", hash)

	if rec, err := ReadRecord(dir); err != nil {
		return nil, fmt.Errorf("read terminal record: %w", err)
	} else if rec != nil && rec.Status.Terminal() {
		log.Debug("pipeline: job already terminal", "status", rec.Status)
		return rec, nil
	}

	jc, err := co.buildContext(dir, hash)
	if err != nil {
		rec := FailureRecord(hash, hash, err.Error())
		co.finish(dir, log, rec)
		return &rec, err
	}

	log.Info("pipeline: run started", "filename", jc.OriginalName, "source", jc.SourceFolder)

	for i, stage := range co.stages {
		jc.Step = i + 1
		jc.Emit(Event{
			Kind:       EventProgress,
			SHA256:     hash,
			Filename:   jc.OriginalName,
			Message:    fmt.Sprintf("Stage %d/%d", jc.Step, jc.TotalSteps),
			Step:       jc.Step,
			TotalSteps: jc.TotalSteps,
			Time:       time.Now().UTC(),
		})

		outcome, err := stage.Execute(ctx, jc)
		if err != nil {
			reason := fmt.Sprintf("%s: %v", stage.Name(), err)
			log.Error("pipeline: stage failed", "stage", stage.Name(), "error", err)
			jc.Emit(Event{Kind: EventError, SHA256: hash, Filename: jc.OriginalName, Reason: reason, Time: time.Now().UTC()})
			rec := FailureRecord(hash, jc.OriginalName, reason)
			co.finish(dir, log, rec)
			return &rec, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if matchedID, dup := outcome.IsDuplicate(); dup {
			log.Info("pipeline: duplicate content", "matched_id", matchedID)
			rec := DuplicateRecord(hash, jc.OriginalName, matchedID)
			co.finish(dir, log, rec)
			return &rec, nil
		}
	}

	rec := ReadyRecord(jc)
	co.finish(dir, log, rec)
	log.Info("pipeline: run finished", "warnings", len(jc.Warnings))
	return &rec, nil
}

func (co *Coordinator) buildContext(dir, hash string) (*Context, error) {
	info, err := ReadSourceInfo(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SourceInfoFileName, err)
	}
	jc := &Context{
		Hash:         hash,
		WorkingDir:   dir,
		OriginalName: hash,
		Received:     time.Now().UTC(),
		TotalSteps:   len(co.stages),
		Events:       co.config.Events,
		Logger:       co.config.Logger.With("sha256", hash),
	}
	if info != nil {
		jc.OriginalName = info.OriginalFilename
		jc.SourceFolder = info.SourceFolder
		jc.Received = info.ReceivedAt
	}
	content, err := findContentFile(dir)
	if err != nil {
		return nil, err
	}
	jc.ContentFile = content
	return jc, nil
}

func (co *Coordinator) finish(dir string, log *slog.Logger, rec StatusRecord) {
	if err := WriteRecord(dir, rec); err != nil {
		log.Error("pipeline: write terminal record", "error", err)
	}
	if co.config.Events != nil {
		co.config.Events(Event{
			Kind:     EventResult,
			SHA256:   rec.SHA256,
			Filename: rec.Filename,
			Record:   &rec,
			Time:     time.Now().UTC(),
		})
	}
}

// findContentFile locates the staged bytes: the one regular file that
// is not a pipeline artifact. Artifacts are matched by exact name so a
// staged .txt upload is still found.
func findContentFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read job dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch name {
		case SourceInfoFileName, RecordFileName, textlayer.FileName:
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("no content file in %s", dir)
}
