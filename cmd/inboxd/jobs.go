package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/tidemill/inboxd/pipeline"
)

// jobStore reads job state straight from the staging directory. The
// filesystem is the source of truth; no cache to invalidate.
type jobStore struct {
	tempDir string
}

type jobStatus struct {
	SHA256   string                 `json:"sha256"`
	Status   pipeline.Status        `json:"status"`
	Filename string                 `json:"filename,omitempty"`
	Source   string                 `json:"source,omitempty"`
	Record   *pipeline.StatusRecord `json:"record,omitempty"`
}

// status returns the current state of one job, or nil when the hash is
// unknown.
func (s *jobStore) status(hash string) (*jobStatus, error) {
	dir := filepath.Join(s.tempDir, hash)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	rec, err := pipeline.ReadRecord(dir)
	if err != nil {
		return nil, err
	}
	st := &jobStatus{SHA256: hash, Status: pipeline.StatusProcessing}
	if info, err := pipeline.ReadSourceInfo(dir); err == nil && info != nil {
		st.Filename = info.OriginalFilename
		st.Source = info.SourceFolder
	}
	if rec != nil {
		st.Status = rec.Status
		if rec.Filename != "" {
			st.Filename = rec.Filename
		}
		st.Record = rec
	}
	return st, nil
}

// list returns all known jobs, newest directory name last.
func (s *jobStore) list() ([]jobStatus, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return nil, err
	}

	var out []jobStatus
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.status(e.Name())
		if err != nil || st == nil {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SHA256 < out[j].SHA256 })
	return out, nil
}
