package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
)

// inlineLimit is the largest blob stored inside the database; anything
// bigger (method traces, large screenshots) goes to the blob directory.
const inlineLimit = 64 * 1024

// AddAttachment persists a blob for an already-stored event. Collectors
// may call this after the event was inserted (post-processed
// screenshots), so it races with export claiming; the exporter treats
// late attachments as best-effort.
func (s *Store) AddAttachment(a *event.Attachment, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Path == "" && len(data) > inlineLimit {
		path := filepath.Join(s.blobDir, a.ID)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write attachment blob: %w", err)
		}
		a.Path = path
		a.Size = int64(len(data))
		data = nil
	} else if a.Path != "" {
		info, err := os.Stat(a.Path)
		if err != nil {
			return fmt.Errorf("failed to stat attachment file: %w", err)
		}
		a.Size = info.Size()
	} else {
		a.Inline = data
		a.Size = int64(len(data))
	}

	_, err := s.db.Exec(
		`INSERT INTO attachments (id, event_id, name, type, inline_data, file_path, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EventID, a.Name, string(a.Type), data, a.Path, a.Size, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// AttachmentUsage returns the total bytes held by all attachments
func (s *Store) AttachmentUsage() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachmentUsageLocked()
}

func (s *Store) attachmentUsageLocked() (int64, error) {
	var total int64
	err := s.db.QueryRow("SELECT COALESCE(SUM(size), 0) FROM attachments").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum attachment sizes: %w", err)
	}
	return total, nil
}

// EnforceQuota evicts oldest unsynced attachments until total usage is
// at or under maxBytes. Attachments whose owning event is claimed by an
// in-flight batch are never evicted. Returns the number evicted.
func (s *Store) EnforceQuota(maxBytes int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, err := s.attachmentUsageLocked()
	if err != nil {
		return 0, err
	}
	if usage <= maxBytes {
		return 0, nil
	}

	rows, err := s.db.Query(
		`SELECT a.id, a.file_path, a.size FROM attachments a
		 JOIN events e ON e.id = a.event_id
		 WHERE e.batch_id IS NULL AND a.upload_url = ''
		 ORDER BY a.created_at ASC`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query evictable attachments: %w", err)
	}

	type victim struct {
		id   string
		path string
		size int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path, &v.size); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan attachment: %w", err)
		}
		victims = append(victims, v)
		usage -= v.size
		if usage <= maxBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	evicted := 0
	for _, v := range victims {
		if _, err := s.db.Exec("DELETE FROM attachments WHERE id = ?", v.id); err != nil {
			return evicted, fmt.Errorf("failed to evict attachment %s: %w", v.id, err)
		}
		if v.path != "" {
			removeFiles([]string{v.path})
		}
		evicted++
		logger.Warn().
			Str("attachment", v.id).
			Int64("size", v.size).
			Msg("Evicted attachment over disk quota")
	}

	return evicted, nil
}

// UpdateAttachmentURL records the signed upload URL returned by the
// ingestion service for one attachment
func (s *Store) UpdateAttachmentURL(attachmentID, uploadURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE attachments SET upload_url = ? WHERE id = ?",
		uploadURL, attachmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attachment url: %w", err)
	}
	return nil
}

// DeleteAttachment removes one attachment row and its blob file
func (s *Store) DeleteAttachment(attachmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path sql.NullString
	err := s.db.QueryRow("SELECT file_path FROM attachments WHERE id = ?", attachmentID).Scan(&path)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to look up attachment: %w", err)
	}

	if _, err := s.db.Exec("DELETE FROM attachments WHERE id = ?", attachmentID); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if path.Valid && path.String != "" {
		removeFiles([]string{path.String})
	}
	return nil
}

// ReadAttachmentData returns the blob bytes, resolving the file path
// for large attachments
func (s *Store) ReadAttachmentData(a *event.Attachment) ([]byte, error) {
	if len(a.Inline) > 0 {
		return a.Inline, nil
	}
	if a.Path == "" {
		return nil, fmt.Errorf("attachment %s has no data", a.ID)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment file: %w", err)
	}
	return data, nil
}

func (s *Store) eventAttachmentsLocked(eventID string) ([]event.Attachment, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, name, type, inline_data, file_path, size, upload_url
		 FROM attachments WHERE event_id = ? ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ptrs, err := scanAttachments(rows)
	if err != nil {
		return nil, err
	}
	attachments := make([]event.Attachment, 0, len(ptrs))
	for _, a := range ptrs {
		attachments = append(attachments, *a)
	}
	return attachments, nil
}

func scanAttachments(rows *sql.Rows) ([]*event.Attachment, error) {
	var attachments []*event.Attachment
	for rows.Next() {
		var a event.Attachment
		var attachmentType string
		var path, uploadURL sql.NullString

		if err := rows.Scan(&a.ID, &a.EventID, &a.Name, &attachmentType, &a.Inline, &path, &a.Size, &uploadURL); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.Type = event.AttachmentType(attachmentType)
		a.Path = path.String
		a.UploadURL = uploadURL.String
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}
