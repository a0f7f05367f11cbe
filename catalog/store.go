// Package catalog persists the archive index and the filing taxonomy.
//
// The pipeline consults it twice per job: the duplicate guard asks
// whether a content hash is already archived, and the classification
// stage fetches the current contexts and categories as candidates.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tidemill/inboxd/classify"
	"github.com/tidemill/inboxd/idgen"
)

// Store wraps the SQLite catalog database.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// OpenStore opens (or creates) the catalog database at path and runs
// migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, newID: idgen.Prefixed("itm_", idgen.Default)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for sharing with other layers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
    id               TEXT PRIMARY KEY,
    sha256           TEXT NOT NULL,
    canonical_sha256 TEXT,
    filename         TEXT,
    mime             TEXT,
    context_uuid     TEXT,
    category_uuid    TEXT,
    created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contexts (
    uuid        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    enabled     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS categories (
    uuid        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    enabled     INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_sha       ON items(sha256);
CREATE INDEX IF NOT EXISTS        idx_items_canonical ON items(canonical_sha256);
`
	_, err := s.db.Exec(ddl)
	return err
}

// Item is one archived document.
type Item struct {
	ID              string `json:"id"`
	SHA256          string `json:"sha256"`
	CanonicalSHA256 string `json:"canonical_sha256,omitempty"`
	Filename        string `json:"filename,omitempty"`
	MIME            string `json:"mime,omitempty"`
	ContextUUID     string `json:"context_uuid,omitempty"`
	CategoryUUID    string `json:"category_uuid,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// InsertItem archives a document record. The ID is generated when empty.
func (s *Store) InsertItem(ctx context.Context, it *Item) error {
	if it.ID == "" {
		it.ID = s.newID()
	}
	if it.CreatedAt == "" {
		it.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, sha256, canonical_sha256, filename, mime, context_uuid, category_uuid, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.SHA256, it.CanonicalSHA256, it.Filename, it.MIME, it.ContextUUID, it.CategoryUUID, it.CreatedAt,
	)
	return err
}

// FindDuplicate returns the item ID already holding the given content
// hash, matching both the raw and the canonical hash column. Returns ""
// when the hash is unknown.
func (s *Store) FindDuplicate(ctx context.Context, sha256 string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM items WHERE sha256 = ? OR canonical_sha256 = ? LIMIT 1`,
		sha256, sha256,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetItem returns an item by ID. Returns nil, nil if not found.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	it := &Item{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sha256, COALESCE(canonical_sha256, ''), COALESCE(filename, ''), COALESCE(mime, ''),
		        COALESCE(context_uuid, ''), COALESCE(category_uuid, ''), created_at
		 FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.SHA256, &it.CanonicalSHA256, &it.Filename, &it.MIME,
		&it.ContextUUID, &it.CategoryUUID, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// UpsertContext creates or updates a filing context.
func (s *Store) UpsertContext(ctx context.Context, uuid, name, description string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (uuid, name, description, enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, description = excluded.description, enabled = excluded.enabled`,
		uuid, name, description, boolInt(enabled),
	)
	return err
}

// UpsertCategory creates or updates a document category.
func (s *Store) UpsertCategory(ctx context.Context, uuid, name, description string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (uuid, name, description, enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, description = excluded.description, enabled = excluded.enabled`,
		uuid, name, description, boolInt(enabled),
	)
	return err
}

// FetchCandidates implements classify.CandidateSource. Only enabled
// entries are offered, freshly read on every call.
func (s *Store) FetchCandidates(ctx context.Context) (*classify.Candidates, error) {
	contexts, err := s.listCandidates(ctx, "contexts")
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	categories, err := s.listCandidates(ctx, "categories")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return &classify.Candidates{Contexts: contexts, Categories: categories}, nil
}

func (s *Store) listCandidates(ctx context.Context, table string) ([]classify.Candidate, error) {
	// table is one of two compile-time constants, never user input.
	q := fmt.Sprintf(`SELECT uuid, name, COALESCE(description, '') FROM %s WHERE enabled = 1 ORDER BY name`, table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []classify.Candidate
	for rows.Next() {
		var c classify.Candidate
		if err := rows.Scan(&c.UUID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
