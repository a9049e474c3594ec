package event

import (
	"encoding/json"
	"time"
)

// Wire shapes for the /events upload. One BatchPayload is serialized
// per upload attempt.

// BatchPayload is the body of one batch upload
type BatchPayload struct {
	Events []EventPacket `json:"events"`
	Spans  []SpanPacket  `json:"spans"`
}

// EventPacket is the wire form of an Event
type EventPacket struct {
	ID                    string             `json:"id"`
	SessionID             string             `json:"session_id"`
	Timestamp             string             `json:"timestamp"`
	Type                  Type               `json:"type"`
	Payload               json.RawMessage    `json:"payload"`
	Attributes            map[string]string  `json:"attributes,omitempty"`
	UserDefinedAttributes map[string]string  `json:"user_defined_attributes,omitempty"`
	Attachments           []AttachmentPacket `json:"attachments,omitempty"`
	UserTriggered         bool               `json:"user_triggered"`
}

// SpanPacket is the wire form of a Span
type SpanPacket struct {
	SpanID     string            `json:"span_id"`
	TraceID    string            `json:"trace_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Name       string            `json:"name"`
	SessionID  string            `json:"session_id"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	DurationMS int64             `json:"duration_ms"`
	Status     SpanStatus        `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AttachmentPacket is the wire form of an attachment reference. Blob
// bytes are not part of the batch body; the ingestion service returns a
// signed URL per attachment and the blob is uploaded out-of-band.
type AttachmentPacket struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type AttachmentType `json:"type"`
	Size int64          `json:"size"`
}

// BatchAck is the ingestion service's response to a successful upload
type BatchAck struct {
	Attachments []AttachmentUploadRef `json:"attachments,omitempty"`
}

// AttachmentUploadRef carries the signed URL for one attachment blob
type AttachmentUploadRef struct {
	ID        string            `json:"id"`
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// NewEventPacket converts a stored event to its wire form
func NewEventPacket(e *Event) EventPacket {
	p := EventPacket{
		ID:                    e.ID,
		SessionID:             e.SessionID,
		Timestamp:             e.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:                  e.Type,
		Payload:               e.Payload,
		Attributes:            e.Attributes,
		UserDefinedAttributes: e.UserDefinedAttributes,
		UserTriggered:         e.UserTriggered,
	}
	for _, a := range e.Attachments {
		p.Attachments = append(p.Attachments, AttachmentPacket{
			ID:   a.ID,
			Name: a.Name,
			Type: a.Type,
			Size: a.Size,
		})
	}
	return p
}

// NewSpanPacket converts a stored span to its wire form
func NewSpanPacket(s *Span) SpanPacket {
	return SpanPacket{
		SpanID:     s.SpanID,
		TraceID:    s.TraceID,
		ParentID:   s.ParentID,
		Name:       s.Name,
		SessionID:  s.SessionID,
		StartTime:  s.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:    s.EndTime.UTC().Format(time.RFC3339Nano),
		DurationMS: s.Duration.Milliseconds(),
		Status:     s.Status,
		Attributes: s.Attributes,
	}
}
