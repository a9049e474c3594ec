package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/tracepoint-sh/tracepoint/internal/event"
)

// SpanRecorder is a convenience wrapper for collectors that measure a
// region of code: start it, end it, and the finished span is tracked.
type SpanRecorder struct {
	p    *Pipeline
	span event.Span
}

// StartSpan begins recording a span under a fresh trace
func (p *Pipeline) StartSpan(name string) *SpanRecorder {
	return &SpanRecorder{
		p: p,
		span: event.Span{
			SpanID:    uuid.NewString(),
			TraceID:   uuid.NewString(),
			Name:      name,
			StartTime: time.Now(),
		},
	}
}

// Child begins a span that continues this recorder's trace
func (r *SpanRecorder) Child(name string) *SpanRecorder {
	return &SpanRecorder{
		p: r.p,
		span: event.Span{
			SpanID:    uuid.NewString(),
			TraceID:   r.span.TraceID,
			ParentID:  r.span.SpanID,
			Name:      name,
			StartTime: time.Now(),
		},
	}
}

// SetAttribute attaches a key/value to the span
func (r *SpanRecorder) SetAttribute(key, value string) *SpanRecorder {
	if r.span.Attributes == nil {
		r.span.Attributes = make(map[string]string)
	}
	r.span.Attributes[key] = value
	return r
}

// End finishes the span with the given status and hands it to the
// pipeline
func (r *SpanRecorder) End(status event.SpanStatus) {
	r.span.EndTime = time.Now()
	r.span.Status = status
	r.p.TrackSpan(&r.span)
}
