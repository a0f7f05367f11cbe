package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tidemill/inboxd/classify"
	"github.com/tidemill/inboxd/extractor"
	"github.com/tidemill/inboxd/mailembed"
	"github.com/tidemill/inboxd/textlayer"
)

type fakeStage struct {
	name  string
	order int
	fn    func(jc *Context) (Outcome, error)
}

func (s *fakeStage) Name() string { return s.name }
func (s *fakeStage) Order() int   { return s.order }
func (s *fakeStage) Execute(_ context.Context, jc *Context) (Outcome, error) {
	if s.fn == nil {
		return Continue, nil
	}
	return s.fn(jc)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sink() Sink {
	return func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}
}

func (r *eventRecorder) byKind(k EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func stageJob(t *testing.T, tempDir, hash string) {
	t.Helper()
	dir := filepath.Join(tempDir, hash)
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir job dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hash+".txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := WriteSourceInfo(dir, SourceInfo{
		OriginalFilename: "brief.txt",
		SourceFolder:     "upload",
		ReceivedAt:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("write source info: %v", err)
	}
}

func TestCoordinator_SortsStagesByOrder(t *testing.T) {
	tempDir := t.TempDir()
	stageJob(t, tempDir, "hash1")

	var ran []string
	mark := func(name string) func(*Context) (Outcome, error) {
		return func(*Context) (Outcome, error) {
			ran = append(ran, name)
			return Continue, nil
		}
	}

	// Registered deliberately out of order.
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Stages: []Stage{
			&fakeStage{name: "third", order: 30, fn: mark("third")},
			&fakeStage{name: "first", order: 10, fn: mark("first")},
			&fakeStage{name: "second", order: 20, fn: mark("second")},
		},
	})

	rec, err := co.Run(context.Background(), "hash1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != StatusReady {
		t.Errorf("status = %s, want READY", rec.Status)
	}

	want := []string{"first", "second", "third"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Errorf("stage %d ran %q, want %q", i, ran[i], want[i])
		}
	}
}

func TestCoordinator_DuplicateShortCircuits(t *testing.T) {
	tempDir := t.TempDir()
	stageJob(t, tempDir, "hash2")

	rec2ran := false
	recd := &eventRecorder{}
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Events:  recd.sink(),
		Stages: []Stage{
			&fakeStage{name: "guard", order: 10, fn: func(*Context) (Outcome, error) {
				return Duplicate("itm_42"), nil
			}},
			&fakeStage{name: "later", order: 20, fn: func(*Context) (Outcome, error) {
				rec2ran = true
				return Continue, nil
			}},
		},
	})

	rec, err := co.Run(context.Background(), "hash2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != StatusDuplicate || rec.MatchedID != "itm_42" {
		t.Errorf("record = %+v", rec)
	}
	if rec2ran {
		t.Error("stages after duplicate outcome must not run")
	}

	// Terminal record persisted.
	onDisk, err := ReadRecord(filepath.Join(tempDir, "hash2"))
	if err != nil || onDisk == nil {
		t.Fatalf("ReadRecord: %v, %+v", err, onDisk)
	}
	if onDisk.Status != StatusDuplicate {
		t.Errorf("persisted status = %s", onDisk.Status)
	}

	results := recd.byKind(EventResult)
	if len(results) != 1 || results[0].Record.Status != StatusDuplicate {
		t.Errorf("result events = %+v", results)
	}
}

func TestCoordinator_StageErrorFailsRun(t *testing.T) {
	tempDir := t.TempDir()
	stageJob(t, tempDir, "hash3")

	recd := &eventRecorder{}
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Events:  recd.sink(),
		Stages: []Stage{
			&fakeStage{name: "boom", order: 10, fn: func(*Context) (Outcome, error) {
				return Continue, errors.New("disk on fire")
			}},
		},
	})

	rec, err := co.Run(context.Background(), "hash3")
	if err == nil {
		t.Fatal("expected error")
	}
	if rec.Status != StatusError {
		t.Errorf("status = %s, want ERROR", rec.Status)
	}

	errs := recd.byKind(EventError)
	if len(errs) != 1 {
		t.Fatalf("error events = %+v", errs)
	}

	// Job directory is retained for inspection.
	if _, statErr := os.Stat(filepath.Join(tempDir, "hash3")); statErr != nil {
		t.Errorf("job dir removed: %v", statErr)
	}
}

func TestCoordinator_EmitsProgressPerStage(t *testing.T) {
	tempDir := t.TempDir()
	stageJob(t, tempDir, "hash4")

	recd := &eventRecorder{}
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Events:  recd.sink(),
		Stages: []Stage{
			&fakeStage{name: "a", order: 10},
			&fakeStage{name: "b", order: 20},
		},
	})

	if _, err := co.Run(context.Background(), "hash4"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	progress := recd.byKind(EventProgress)
	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want 2", len(progress))
	}
	if progress[0].Message != "Stage 1/2" || progress[0].Step != 1 || progress[0].TotalSteps != 2 {
		t.Errorf("first progress = %+v", progress[0])
	}
	if progress[1].Message != "Stage 2/2" {
		t.Errorf("second progress = %+v", progress[1])
	}
	if progress[0].Filename != "brief.txt" {
		t.Errorf("progress filename = %q", progress[0].Filename)
	}
}

func TestCoordinator_TerminalJobNotRerun(t *testing.T) {
	tempDir := t.TempDir()
	stageJob(t, tempDir, "hash5")

	runs := 0
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Stages: []Stage{
			&fakeStage{name: "count", order: 10, fn: func(*Context) (Outcome, error) {
				runs++
				return Continue, nil
			}},
		},
	})

	if _, err := co.Run(context.Background(), "hash5"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	rec, err := co.Run(context.Background(), "hash5")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if runs != 1 {
		t.Errorf("stage ran %d times, want 1", runs)
	}
	if rec.Status != StatusReady {
		t.Errorf("second run record = %+v", rec)
	}
}

func TestCoordinator_RerunRegeneratesIdenticalArtifacts(t *testing.T) {
	tempDir := t.TempDir()
	hash := "hash7"
	dir := filepath.Join(tempDir, hash)
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("Ihre Versicherung wurde am 12.03.2024 verlängert.")
	if err := os.WriteFile(filepath.Join(dir, hash+".txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteSourceInfo(dir, SourceInfo{
		OriginalFilename: "police.txt",
		SourceFolder:     "upload",
		ReceivedAt:       time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	co := NewCoordinator(Config{
		TempDir: tempDir,
		Stages: []Stage{
			NewDuplicateStage(&fakeIndex{}),
			NewSniffStage(),
			NewMetadataStage(),
			NewExtractStage(extractor.New(extractor.Config{})),
			NewEmbedStage(mailembed.New(mailembed.Config{})),
			NewClassifyStage(classifySelector(t), &fakeCandidates{cand: &classify.Candidates{
				Contexts: []classify.Candidate{{UUID: "ctx-1", Name: "Versicherung"}},
			}}),
		},
	})

	first, err := co.Run(context.Background(), hash)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Status != StatusReady || first.Prediction == nil {
		t.Fatalf("first record = %+v", first)
	}
	layer1, err := os.ReadFile(filepath.Join(dir, textlayer.FileName))
	if err != nil {
		t.Fatalf("text layer: %v", err)
	}

	// A crash before the terminal write leaves no pipeline.json, so
	// recovery resubmits the job over the already-staged inputs.
	if err := os.Remove(filepath.Join(dir, RecordFileName)); err != nil {
		t.Fatal(err)
	}

	second, err := co.Run(context.Background(), hash)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Status != StatusReady {
		t.Fatalf("second record = %+v", second)
	}

	layer2, err := os.ReadFile(filepath.Join(dir, textlayer.FileName))
	if err != nil {
		t.Fatalf("text layer after rerun: %v", err)
	}
	if !bytes.Equal(layer1, layer2) {
		t.Errorf("regenerated text layer differs:\nfirst:\n%s\nsecond:\n%s", layer1, layer2)
	}
	if !reflect.DeepEqual(first.Prediction, second.Prediction) {
		t.Errorf("prediction changed across runs:\nfirst:  %+v\nsecond: %+v", first.Prediction, second.Prediction)
	}
}

func TestCoordinator_MissingSourceInfoFallsBackToHash(t *testing.T) {
	tempDir := t.TempDir()
	dir := filepath.Join(tempDir, "hash6")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hash6.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var seenName string
	co := NewCoordinator(Config{
		TempDir: tempDir,
		Stages: []Stage{
			&fakeStage{name: "peek", order: 10, fn: func(jc *Context) (Outcome, error) {
				seenName = jc.OriginalName
				return Continue, nil
			}},
		},
	})
	if _, err := co.Run(context.Background(), "hash6"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenName != "hash6" {
		t.Errorf("OriginalName = %q, want hash fallback", seenName)
	}
}

func TestMultiSink_FansOut(t *testing.T) {
	var a, b int
	sink := MultiSink(func(Event) { a++ }, nil, func(Event) { b++ })
	sink(Event{Kind: EventProgress})
	if a != 1 || b != 1 {
		t.Errorf("fan-out counts = %d, %d", a, b)
	}
}
