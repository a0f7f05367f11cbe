package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tidemill/inboxd/classify"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
	StatusDuplicate  Status = "DUPLICATE"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError || s == StatusDuplicate
}

// RecordFileName is the terminal record inside a job directory.
const RecordFileName = "pipeline.json"

// SourceInfoFileName preserves staging provenance inside a job directory.
const SourceInfoFileName = "source.info"

// StatusRecord is the terminal outcome of one job, persisted as
// pipeline.json and carried on Result events.
type StatusRecord struct {
	SHA256      string               `json:"sha256"`
	Status      Status               `json:"status"`
	Filename    string               `json:"filename,omitempty"`
	MIME        string               `json:"mime,omitempty"`
	MatchedID   string               `json:"matched_id,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
	Prediction  *classify.Prediction `json:"prediction,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// ReadyRecord builds the terminal record of a successful run.
func ReadyRecord(jc *Context) StatusRecord {
	return StatusRecord{
		SHA256:      jc.Hash,
		Status:      StatusReady,
		Filename:    jc.OriginalName,
		MIME:        jc.MIME,
		Warnings:    jc.Warnings,
		Prediction:  jc.Prediction,
		CompletedAt: time.Now().UTC(),
	}
}

// DuplicateRecord builds the terminal record of a job whose content is
// already archived.
func DuplicateRecord(hash, filename, matchedID string) StatusRecord {
	return StatusRecord{
		SHA256:      hash,
		Status:      StatusDuplicate,
		Filename:    filename,
		MatchedID:   matchedID,
		CompletedAt: time.Now().UTC(),
	}
}

// FailureRecord builds the terminal record of a failed run.
func FailureRecord(hash, filename, reason string) StatusRecord {
	return StatusRecord{
		SHA256:      hash,
		Status:      StatusError,
		Filename:    filename,
		Reason:      reason,
		CompletedAt: time.Now().UTC(),
	}
}

// WriteRecord persists the record atomically into the job directory.
func WriteRecord(dir string, rec StatusRecord) error {
	return writeJSONAtomic(filepath.Join(dir, RecordFileName), rec)
}

// ReadRecord loads the terminal record of a job directory.
// Returns nil, nil when no record has been written yet.
func ReadRecord(dir string) (*StatusRecord, error) {
	b, err := os.ReadFile(filepath.Join(dir, RecordFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec StatusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", RecordFileName, err)
	}
	return &rec, nil
}

// SourceInfo records where a staged file came from.
type SourceInfo struct {
	OriginalFilename string    `json:"originalFilename"`
	SourceFolder     string    `json:"sourceFolder"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

// WriteSourceInfo persists provenance into the job directory.
func WriteSourceInfo(dir string, info SourceInfo) error {
	return writeJSONAtomic(filepath.Join(dir, SourceInfoFileName), info)
}

// ReadSourceInfo loads provenance from the job directory.
// Returns nil, nil when the file is missing.
func ReadSourceInfo(dir string) (*SourceInfo, error) {
	b, err := os.ReadFile(filepath.Join(dir, SourceInfoFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info SourceInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("parse %s: %w", SourceInfoFileName, err)
	}
	return &info, nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
