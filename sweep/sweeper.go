// Package sweep watches the inbox drop folders and stages stable files
// into content-addressed job directories, one per sha256. It also
// recovers interrupted jobs after a restart.
package sweep

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidemill/inboxd/pipeline"
)

// Dispatch hands a staged hash to the pipeline. The sweeper invokes it
// on its own goroutine, so implementations may block.
type Dispatch func(hash string)

// Config configures the Sweeper.
type Config struct {
	// InboxDir is the root of the drop folders.
	InboxDir string
	// TempDir is the staging root holding one directory per hash.
	TempDir string
	// Sources are the watched subfolders of InboxDir.
	// Default: mail, scan, upload.
	Sources []string
	// Interval between sweeps. Default: 2s.
	Interval time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Sources) == 0 {
		c.Sources = []string{"mail", "scan", "upload"}
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.InboxDir == "" {
		return errors.New("sweep: InboxDir is required")
	}
	if c.TempDir == "" {
		return errors.New("sweep: TempDir is required")
	}
	return nil
}

// Sweeper is the serial inbox scanner.
type Sweeper struct {
	config   Config
	dispatch Dispatch
	events   pipeline.Sink
	sleep    func(time.Duration)
	rename   func(oldpath, newpath string) error
}

// New creates a Sweeper. events may be nil.
func New(cfg Config, dispatch Dispatch, events pipeline.Sink) *Sweeper {
	cfg.defaults()
	return &Sweeper{
		config:   cfg,
		dispatch: dispatch,
		events:   events,
		sleep:    time.Sleep,
		rename:   os.Rename,
	}
}

// Run sweeps immediately and then on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.config.Logger.Info("sweep: started",
		"inbox", s.config.InboxDir, "sources", s.config.Sources, "interval", s.config.Interval)

	s.sweepOnce(ctx)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, source := range s.config.Sources {
		dir := filepath.Join(s.config.InboxDir, source)
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.config.Logger.Debug("sweep: source unreadable", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if err := s.stageFile(source, e.Name()); err != nil {
				s.config.Logger.Warn("sweep: staging failed",
					"source", source, "file", e.Name(), "error", err)
			}
		}
	}
}

// stageFile moves one inbox file into its content-addressed job
// directory and dispatches the pipeline run. A failure affects only
// this file.
func (s *Sweeper) stageFile(source, name string) error {
	path := filepath.Join(s.config.InboxDir, source, name)

	if _, err := waitStable(path, s.sleep); err != nil {
		return err
	}

	hash, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	jobDir := filepath.Join(s.config.TempDir, hash)
	if err := os.Mkdir(jobDir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Same bytes already staged, possibly by a concurrent sweep.
			return s.dropDuplicate(path, hash, name)
		}
		return fmt.Errorf("create job dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if err := s.rename(path, filepath.Join(jobDir, hash+ext)); err != nil {
		// An empty job dir would make the next sweep of this file look
		// like a duplicate and delete the never-staged source.
		os.RemoveAll(jobDir)
		return fmt.Errorf("move into job dir: %w", err)
	}
	if err := pipeline.WriteSourceInfo(jobDir, pipeline.SourceInfo{
		OriginalFilename: name,
		SourceFolder:     source,
		ReceivedAt:       time.Now().UTC(),
	}); err != nil {
		s.config.Logger.Warn("sweep: source info not written", "sha256", hash, "error", err)
	}

	s.config.Logger.Info("sweep: file staged", "sha256", hash, "file", name, "source", source)
	s.emit(pipeline.Event{
		Kind:     pipeline.EventFileDetected,
		SHA256:   hash,
		Filename: name,
		Source:   source,
		Time:     time.Now().UTC(),
	})

	if s.dispatch != nil {
		go s.dispatch(hash)
	}
	return nil
}

func (s *Sweeper) dropDuplicate(path, hash, name string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove duplicate source: %w", err)
	}
	s.config.Logger.Info("sweep: duplicate dropped", "sha256", hash, "file", name)
	rec := pipeline.DuplicateRecord(hash, name, "")
	s.emit(pipeline.Event{
		Kind:     pipeline.EventResult,
		SHA256:   hash,
		Filename: name,
		Record:   &rec,
		Time:     time.Now().UTC(),
	})
	return nil
}

func (s *Sweeper) emit(e pipeline.Event) {
	if s.events != nil {
		s.events(e)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
