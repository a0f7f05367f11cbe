// inboxd watches drop folders, stages inbound documents by content
// hash, and runs the ingestion pipeline over them. Configuration comes
// from one YAML file (default: inboxd.yaml).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tidemill/inboxd/catalog"
	"github.com/tidemill/inboxd/classify"
	"github.com/tidemill/inboxd/extractor"
	"github.com/tidemill/inboxd/mailembed"
	"github.com/tidemill/inboxd/observability"
	"github.com/tidemill/inboxd/pipeline"
	"github.com/tidemill/inboxd/sweep"
)

func main() {
	cfgPath := "inboxd.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	setupLogging(cfg.LogLevel)

	for _, src := range cfg.Sweep.Sources {
		if err := os.MkdirAll(filepath.Join(cfg.InboxDir(), src), 0o755); err != nil {
			log.Fatalf("create inbox dir: %v", err)
		}
	}
	if err := os.MkdirAll(cfg.TempDir(), 0o755); err != nil {
		log.Fatalf("create staging dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Catalog (archive index + candidate lists) ---
	store, err := catalog.OpenStore(cfg.CatalogDB)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	defer store.Close()

	// --- Observability DB (separate from the catalog to avoid write contention) ---
	obsDB, err := observability.Open(cfg.ObservabilityDB)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	defer obsDB.Close()

	events := observability.NewEventLogger(obsDB)
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()

	heartbeat := observability.NewHeartbeatWriter(obsDB, "inboxd", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// --- Pipeline stages ---
	engine := extractor.New(extractor.Config{
		OCRLanguages: cfg.OCR.Languages,
		TesseractBin: cfg.OCR.Binary,
		PDFImageOCR:  cfg.OCR.ExtractPDFImages,
	})
	embedder := mailembed.New(mailembed.Config{
		MaxResourceBytes: int64(cfg.Embed.MaxResourceMB) << 20,
		Timeout:          cfg.Embed.Timeout,
		UserAgent:        cfg.Embed.UserAgent,
	})

	selector := classify.NewSelector()
	selector.Register(classify.NewHeuristic(), classify.StrategyConfig{
		Enabled:    cfg.Classify.Heuristic.Enabled,
		Preference: cfg.Classify.Heuristic.Preference,
	})
	selector.Register(classify.NewOllama(classify.OllamaConfig{
		URL:           cfg.Classify.Ollama.URL,
		Model:         cfg.Classify.Ollama.Model,
		Timeout:       cfg.Classify.Ollama.Timeout,
		MaxConcurrent: cfg.Classify.Ollama.MaxConcurrent,
	}), classify.StrategyConfig{
		Enabled:    cfg.Classify.Ollama.Enabled,
		Preference: cfg.Classify.Ollama.Preference,
	})

	broker := newSSEBroker()
	sink := pipeline.MultiSink(broker.Sink(), observabilitySink(events), catalogSink(store, metrics))

	co := pipeline.NewCoordinator(pipeline.Config{
		TempDir: cfg.TempDir(),
		Events:  sink,
		Stages: []pipeline.Stage{
			pipeline.NewDuplicateStage(store),
			pipeline.NewSniffStage(),
			pipeline.NewMetadataStage(),
			pipeline.NewExtractStage(engine),
			pipeline.NewEmbedStage(embedder),
			pipeline.NewClassifyStage(selector, store),
		},
	})

	dispatch := func(hash string) {
		start := time.Now()
		if _, err := co.Run(ctx, hash); err != nil {
			metrics.RecordSimple(observability.MetricJobsFailed, 1, "count")
			return
		}
		metrics.RecordSimple(observability.MetricJobDurationMs, float64(time.Since(start).Milliseconds()), "milliseconds")
		metrics.RecordSimple(observability.MetricJobsProcessed, 1, "count")
	}

	// Crash recovery: resubmit interrupted jobs, clean staging leftovers.
	if n, err := sweep.Recover(cfg.TempDir(), dispatch, slog.Default()); err != nil {
		log.Fatalf("recovery: %v", err)
	} else if n > 0 {
		slog.Info("recovery: jobs resubmitted", "count", n)
	}

	sweeper := sweep.New(sweep.Config{
		InboxDir: cfg.InboxDir(),
		TempDir:  cfg.TempDir(),
		Sources:  cfg.Sweep.Sources,
		Interval: cfg.Sweep.Interval,
	}, dispatch, sink)
	go sweeper.Run(ctx)

	jobs := &jobStore{tempDir: cfg.TempDir()}

	if cfg.MCP.Enabled {
		srv := mcp.NewServer(&mcp.Implementation{Name: "inboxd", Version: "1.0.0"}, nil)
		registerMCPTools(srv, jobs)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp server stopped", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: newRouter(jobs, obsDB, broker)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("inboxd listening", "addr", cfg.Listen, "inbox", cfg.InboxDir())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// observabilitySink mirrors terminal pipeline events into the business
// event log. Progress events are too chatty to persist.
func observabilitySink(events *observability.EventLogger) pipeline.Sink {
	return func(e pipeline.Event) {
		if e.Kind == pipeline.EventProgress {
			return
		}
		ev := observability.BusinessEvent{
			EventType:   string(e.Kind),
			ServiceName: "inboxd",
			EntityType:  "document",
			EntityID:    e.SHA256,
			Action:      "ingest",
			Success:     e.Kind != pipeline.EventError,
		}
		if e.Record != nil {
			ev.EventType = "pipeline_" + strings.ToLower(string(e.Record.Status))
			ev.Success = e.Record.Status != pipeline.StatusError
			if details, err := json.Marshal(e.Record); err == nil {
				ev.Details = string(details)
			}
		}
		events.LogEvent(context.Background(), ev)
	}
}

// catalogSink archives READY jobs and counts duplicate drops.
func catalogSink(store *catalog.Store, metrics *observability.MetricsManager) pipeline.Sink {
	return func(e pipeline.Event) {
		if e.Kind != pipeline.EventResult || e.Record == nil {
			return
		}
		switch e.Record.Status {
		case pipeline.StatusReady:
			it := &catalog.Item{
				SHA256:   e.SHA256,
				Filename: e.Record.Filename,
				MIME:     e.Record.MIME,
			}
			if p := e.Record.Prediction; p != nil {
				it.ContextUUID = p.ContextUUID
				it.CategoryUUID = p.CategoryUUID
			}
			if err := store.InsertItem(context.Background(), it); err != nil {
				slog.Warn("catalog: archive insert failed", "sha256", e.SHA256, "error", err)
			}
		case pipeline.StatusDuplicate:
			metrics.RecordSimple(observability.MetricDuplicatesSkipped, 1, "count")
		}
	}
}
