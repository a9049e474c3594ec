package event

import (
	"fmt"
	"time"
)

// SpanStatus is the terminal status of a span
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = 0
	SpanStatusOK    SpanStatus = 1
	SpanStatusError SpanStatus = 2
)

// Span is a timed performance-trace unit. Spans share the event
// lifecycle for export: claimed into batches, deleted on ack.
type Span struct {
	SpanID     string
	TraceID    string
	ParentID   string
	Name       string
	SessionID  string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     SpanStatus
	Attributes map[string]string

	// BatchID mirrors Event.BatchID: empty until claimed for export.
	BatchID string
}

// Validate checks that the span is well-formed enough to persist
func (s *Span) Validate() error {
	if s.SpanID == "" {
		return fmt.Errorf("span has no id")
	}
	if s.TraceID == "" {
		return fmt.Errorf("span %s has no trace id", s.SpanID)
	}
	if s.Name == "" {
		return fmt.Errorf("span %s has no name", s.SpanID)
	}
	if s.SessionID == "" {
		return fmt.Errorf("span %s has no session id", s.SpanID)
	}
	if s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("span %s ends before it starts", s.SpanID)
	}
	return nil
}
