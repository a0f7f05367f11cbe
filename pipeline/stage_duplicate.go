package pipeline

import (
	"context"
	"fmt"
)

// ArchiveIndex answers whether a content hash is already archived.
// The lookup covers both the raw staging hash and the canonical hash a
// later normalization (such as an OCR rewrite) may have produced.
type ArchiveIndex interface {
	// FindDuplicate returns the archived item ID holding the hash, or
	// "" when the content is new.
	FindDuplicate(ctx context.Context, sha256 string) (string, error)
}

type duplicateStage struct {
	index ArchiveIndex
}

// NewDuplicateStage guards the pipeline against re-ingesting archived
// content.
func NewDuplicateStage(index ArchiveIndex) Stage {
	return &duplicateStage{index: index}
}

func (s *duplicateStage) Name() string { return "duplicate-guard" }
func (s *duplicateStage) Order() int   { return 10 }

func (s *duplicateStage) Execute(ctx context.Context, jc *Context) (Outcome, error) {
	id, err := s.index.FindDuplicate(ctx, jc.Hash)
	if err != nil {
		return Continue, fmt.Errorf("archive lookup: %w", err)
	}
	if id != "" {
		return Duplicate(id), nil
	}
	return Continue, nil
}
