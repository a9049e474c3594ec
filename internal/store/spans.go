package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tracepoint-sh/tracepoint/internal/event"
)

// InsertSpan durably persists a finished span
func (s *Store) InsertSpan(sp *event.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := marshalAttrs(sp.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal span attributes: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO spans (span_id, trace_id, parent_id, name, session_id, start_time, end_time, duration_ms, status, attributes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.SpanID,
		sp.TraceID,
		sp.ParentID,
		sp.Name,
		sp.SessionID,
		sp.StartTime.UnixMilli(),
		sp.EndTime.UnixMilli(),
		sp.Duration.Milliseconds(),
		int(sp.Status),
		attrs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}
	return nil
}

// GetBatchSpans returns the spans claimed by batchID in claim order
func (s *Store) GetBatchSpans(batchID string) ([]*event.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT span_id, trace_id, parent_id, name, session_id, start_time, end_time, duration_ms, status, attributes, batch_id
		 FROM spans
		 WHERE batch_id = ?
		 ORDER BY start_time ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var spans []*event.Span
	for rows.Next() {
		var sp event.Span
		var parentID, attrs, batchCol sql.NullString
		var startTime, endTime, durationMS int64
		var status int

		if err := rows.Scan(&sp.SpanID, &sp.TraceID, &parentID, &sp.Name, &sp.SessionID, &startTime, &endTime, &durationMS, &status, &attrs, &batchCol); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}

		sp.ParentID = parentID.String
		sp.StartTime = time.UnixMilli(startTime)
		sp.EndTime = time.UnixMilli(endTime)
		sp.Duration = time.Duration(durationMS) * time.Millisecond
		sp.Status = event.SpanStatus(status)
		sp.Attributes = unmarshalAttrs(attrs)
		sp.BatchID = batchCol.String

		spans = append(spans, &sp)
	}

	return spans, rows.Err()
}

// CountUnbatchedSpans returns the number of spans awaiting export
func (s *Store) CountUnbatchedSpans() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM spans WHERE batch_id IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unbatched spans: %w", err)
	}
	return count, nil
}
