package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tracepoint-sh/tracepoint/internal/event"
)

// InsertSession durably persists a new session row. Called
// synchronously on every session creation so a session is never lost
// even if the process dies immediately after.
func (s *Store) InsertSession(sess *event.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, pid, created_at, crashed, needs_reporting, sampled, app_version, app_build)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.PID,
		sess.CreatedAt.UnixMilli(),
		boolToInt(sess.Crashed),
		boolToInt(sess.NeedsReporting),
		boolToInt(sess.Sampled),
		sess.AppVersion,
		sess.AppBuild,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(sessionID string) (*event.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess event.Session
	var createdAt int64
	var crashed, needsReporting, sampled int
	var appVersion, appBuild sql.NullString

	err := s.db.QueryRow(
		`SELECT session_id, pid, created_at, crashed, needs_reporting, sampled, app_version, app_build
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.ID, &sess.PID, &createdAt, &crashed, &needsReporting, &sampled, &appVersion, &appBuild)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.Crashed = crashed != 0
	sess.NeedsReporting = needsReporting != 0
	sess.Sampled = sampled != 0
	sess.AppVersion = appVersion.String
	sess.AppBuild = appBuild.String
	return &sess, nil
}

// MarkCrashed sets crashed and needs_reporting on the session.
// Idempotent; the flags are never cleared once set.
func (s *Store) MarkCrashed(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE sessions SET crashed = 1, needs_reporting = 1 WHERE session_id = ?",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session crashed: %w", err)
	}
	return nil
}

// MarkNeedsReporting forces the session to be exported in full
// regardless of the sampling rate
func (s *Store) MarkNeedsReporting(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE sessions SET needs_reporting = 1 WHERE session_id = ?",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session for reporting: %w", err)
	}
	return nil
}

// ListSessions returns all sessions ordered newest-first
func (s *Store) ListSessions() ([]*event.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, pid, created_at, crashed, needs_reporting, sampled, app_version, app_build
		 FROM sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*event.Session
	for rows.Next() {
		var sess event.Session
		var createdAt int64
		var crashed, needsReporting, sampled int
		var appVersion, appBuild sql.NullString

		if err := rows.Scan(&sess.ID, &sess.PID, &createdAt, &crashed, &needsReporting, &sampled, &appVersion, &appBuild); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.Crashed = crashed != 0
		sess.NeedsReporting = needsReporting != 0
		sess.Sampled = sampled != 0
		sess.AppVersion = appVersion.String
		sess.AppBuild = appBuild.String
		sessions = append(sessions, &sess)
	}

	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
