package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tracepoint-sh/tracepoint/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Store is the durable local queue backing the pipeline: sessions,
// events, spans and attachments live in one SQLite file that survives
// process death. All writes go through a single connection; callers
// serialize via the pipeline's writer goroutine, the mutex only guards
// direct CLI/test access.
type Store struct {
	db      *sql.DB
	dbPath  string
	blobDir string
	mu      sync.RWMutex
}

// Open opens (or creates) the store at dbPath. Large attachment blobs
// live next to the database under <dir>/blobs.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".tracepoint", "tracepoint.db")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	// WAL with synchronous(NORMAL): commits survive process crash but
	// the last commits may be lost on power loss. Full fsync per commit
	// is too slow for hot-path event volume.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		db:      db,
		dbPath:  dbPath,
		blobDir: blobDir,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened event store")

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		crashed INTEGER NOT NULL DEFAULT 0,
		needs_reporting INTEGER NOT NULL DEFAULT 0,
		sampled INTEGER NOT NULL DEFAULT 1,
		app_version TEXT,
		app_build TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		attributes TEXT,
		user_defined_attributes TEXT,
		user_triggered INTEGER NOT NULL DEFAULT 0,
		batch_id TEXT DEFAULT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS spans (
		span_id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		parent_id TEXT,
		name TEXT NOT NULL,
		session_id TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		attributes TEXT,
		batch_id TEXT DEFAULT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		inline_data BLOB,
		file_path TEXT,
		size INTEGER NOT NULL,
		upload_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_spans_batch ON spans(batch_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_attachments_event ON attachments(event_id);
	CREATE INDEX IF NOT EXISTS idx_attachments_created ON attachments(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// BlobDir returns the directory holding large attachment files
func (s *Store) BlobDir() string {
	return s.blobDir
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
