package observability

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Schema contains the complete DDL for the observability tables.
// Call Init(db) to apply it, or use this constant to embed in your own
// schema management.
const Schema = `
-- Worker Heartbeats
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_heartbeats_timestamp
    ON worker_heartbeats(timestamp DESC);

-- Metrics Timeseries
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp
    ON metrics_timeseries(timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics_metadata (
    metric_name TEXT PRIMARY KEY,
    metric_type TEXT NOT NULL,
    description TEXT,
    first_seen INTEGER NOT NULL,
    last_seen INTEGER NOT NULL
);

-- Business Event Logs
CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    service_name TEXT NOT NULL,
    entity_type TEXT,
    entity_id TEXT,
    user_id TEXT,
    action TEXT NOT NULL,
    details TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_event_logs_type ON business_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_logs_service ON business_event_logs(service_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_logs_entity ON business_event_logs(entity_id, created_at DESC);

-- Metadata registry
CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('worker_heartbeats', 'Worker liveness heartbeats with runtime metrics'),
    ('metrics_timeseries', 'Timeseries metric datapoints'),
    ('metrics_metadata', 'Metric type definitions'),
    ('business_event_logs', 'Domain-level business events');
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Open opens (or creates) the observability database at path and applies
// the schema. The database is kept separate from the catalog to avoid
// write contention.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}
