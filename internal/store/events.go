package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
)

// InsertEvent transactionally persists an event and its attachment
// rows. The commit completes before this returns, which is what the
// crash path relies on: once InsertEvent returns nil the event survives
// process death.
func (s *Store) InsertEvent(e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := marshalAttrs(e.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	userAttrs, err := marshalAttrs(e.UserDefinedAttributes)
	if err != nil {
		return fmt.Errorf("failed to marshal user attributes: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO events (id, session_id, timestamp, type, payload, attributes, user_defined_attributes, user_triggered)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.SessionID,
		e.Timestamp.UnixMilli(),
		string(e.Type),
		string(e.Payload),
		attrs,
		userAttrs,
		boolToInt(e.UserTriggered),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	now := time.Now().UnixMilli()
	for i := range e.Attachments {
		a := &e.Attachments[i]
		_, err = tx.Exec(
			`INSERT INTO attachments (id, event_id, name, type, inline_data, file_path, size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, e.ID, a.Name, string(a.Type), a.Inline, a.Path, a.Size, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attachment %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// ClaimUnbatched atomically stamps batchID on up to limit unclaimed
// events and spans, oldest first. Sessions sampled out of export are
// skipped unless flagged needs_reporting, so sampling never discards
// data needed to explain a crash. Events get the larger share of the
// limit but a quarter is held back for spans, so sustained event
// volume cannot starve span export; any slack left after the span
// claim goes back to events. The single transaction guarantees no row
// is ever claimed by two concurrent exports.
func (s *Store) ClaimUnbatched(limit int, batchID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	claimEvents := func(n int) (int, error) {
		res, err := tx.Exec(
			`UPDATE events SET batch_id = ?
			 WHERE id IN (
				SELECT e.id FROM events e
				JOIN sessions s ON s.session_id = e.session_id
				WHERE e.batch_id IS NULL AND (s.sampled = 1 OR s.needs_reporting = 1)
				ORDER BY e.timestamp ASC
				LIMIT ?
			 )`,
			batchID, n,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to claim events: %w", err)
		}
		claimed, _ := res.RowsAffected()
		return int(claimed), nil
	}

	claimedEvents, err := claimEvents(limit - limit/4)
	if err != nil {
		return 0, 0, err
	}

	remaining := limit - claimedEvents
	var claimedSpans int
	if remaining > 0 {
		res, err := tx.Exec(
			`UPDATE spans SET batch_id = ?
			 WHERE span_id IN (
				SELECT sp.span_id FROM spans sp
				JOIN sessions s ON s.session_id = sp.session_id
				WHERE sp.batch_id IS NULL AND (s.sampled = 1 OR s.needs_reporting = 1)
				ORDER BY sp.start_time ASC
				LIMIT ?
			 )`,
			batchID, remaining,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to claim spans: %w", err)
		}
		claimed, _ := res.RowsAffected()
		claimedSpans = int(claimed)
	}

	if leftover := limit - claimedEvents - claimedSpans; leftover > 0 {
		more, err := claimEvents(leftover)
		if err != nil {
			return 0, 0, err
		}
		claimedEvents += more
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit claim: %w", err)
	}

	return claimedEvents, claimedSpans, nil
}

// RollbackBatch returns all rows claimed by batchID to the unbatched
// pool so a later heartbeat can retry them
func (s *Store) RollbackBatch(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("UPDATE events SET batch_id = NULL WHERE batch_id = ?", batchID); err != nil {
		return fmt.Errorf("failed to roll back events: %w", err)
	}
	if _, err := tx.Exec("UPDATE spans SET batch_id = NULL WHERE batch_id = ?", batchID); err != nil {
		return fmt.Errorf("failed to roll back spans: %w", err)
	}

	return tx.Commit()
}

// DeleteBatch removes every event and span claimed by batchID, their
// attachment rows (cascade) and attachment files. Called only after a
// server ack or a permanent 4xx rejection.
func (s *Store) DeleteBatch(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.attachmentFilePaths(
		`SELECT a.file_path FROM attachments a
		 JOIN events e ON e.id = a.event_id
		 WHERE e.batch_id = ? AND a.file_path != ''`,
		batchID,
	)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM events WHERE batch_id = ?", batchID); err != nil {
		return fmt.Errorf("failed to delete batch events: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM spans WHERE batch_id = ?", batchID); err != nil {
		return fmt.Errorf("failed to delete batch spans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch delete: %w", err)
	}

	removeFiles(paths)
	return nil
}

// GetBatchEvents returns the events claimed by batchID in claim order,
// with attachment rows resolved
func (s *Store) GetBatchEvents(batchID string) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, timestamp, type, payload, attributes, user_defined_attributes, user_triggered, batch_id
		 FROM events
		 WHERE batch_id = ?
		 ORDER BY timestamp ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		attachments, err := s.eventAttachmentsLocked(e.ID)
		if err != nil {
			return nil, err
		}
		e.Attachments = attachments
	}

	return events, nil
}

// GetSessionEvents returns events for one session in arrival order,
// newest limited to limit (0 = no limit). Used by the debug CLI.
func (s *Store) GetSessionEvents(sessionID string, limit int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, session_id, timestamp, type, payload, attributes, user_defined_attributes, user_triggered, batch_id
		 FROM events WHERE session_id = ? ORDER BY timestamp ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// CountUnbatched returns the number of events awaiting export
func (s *Store) CountUnbatched() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE batch_id IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unbatched events: %w", err)
	}
	return count, nil
}

// SweepOlderThan deletes events and spans older than ttl regardless of
// batch state, then removes sessions left with no rows. Bounds growth
// from permanently failing uploads.
func (s *Store) SweepOlderThan(ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixMilli()

	paths, err := s.attachmentFilePaths(
		`SELECT a.file_path FROM attachments a
		 JOIN events e ON e.id = a.event_id
		 WHERE e.timestamp < ? AND a.file_path != ''`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep events: %w", err)
	}
	deleted, _ := res.RowsAffected()

	res, err = tx.Exec("DELETE FROM spans WHERE end_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep spans: %w", err)
	}
	spansDeleted, _ := res.RowsAffected()
	deleted += spansDeleted

	_, err = tx.Exec(
		`DELETE FROM sessions WHERE created_at < ?
		 AND session_id NOT IN (SELECT DISTINCT session_id FROM events)
		 AND session_id NOT IN (SELECT DISTINCT session_id FROM spans)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}

	removeFiles(paths)

	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("ttl", ttl.String()).
			Msg("Swept expired rows")
	}

	return deleted, nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var events []*event.Event

	for rows.Next() {
		var e event.Event
		var timestamp int64
		var eventType, payload string
		var attrs, userAttrs, batchID sql.NullString
		var userTriggered int

		if err := rows.Scan(&e.ID, &e.SessionID, &timestamp, &eventType, &payload, &attrs, &userAttrs, &userTriggered, &batchID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.Timestamp = time.UnixMilli(timestamp)
		e.Type = event.Type(eventType)
		e.Payload = json.RawMessage(payload)
		e.UserTriggered = userTriggered != 0
		e.BatchID = batchID.String
		e.Attributes = unmarshalAttrs(attrs)
		e.UserDefinedAttributes = unmarshalAttrs(userAttrs)

		events = append(events, &e)
	}

	return events, rows.Err()
}

func marshalAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalAttrs(col sql.NullString) map[string]string {
	if !col.Valid || col.String == "" {
		return nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(col.String), &attrs); err != nil {
		logger.Debug().Err(err).Msg("Failed to unmarshal attributes")
		return nil
	}
	return attrs
}

func (s *Store) attachmentFilePaths(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan attachment path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func removeFiles(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to remove attachment file")
		}
	}
}
