package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracepoint-sh/tracepoint/internal/event"
)

func TestInsertEventRoundTrip(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	e := &event.Event{
		ID:                    "ev-1",
		SessionID:             "sess-1",
		Timestamp:             time.Now(),
		Type:                  event.TypeClick,
		Payload:               json.RawMessage(`{"target":"buy_button","x":10,"y":20}`),
		Attributes:            map[string]string{"os": "android"},
		UserDefinedAttributes: map[string]string{"tier": "gold"},
		UserTriggered:         true,
	}
	if err := st.InsertEvent(e); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	events, err := st.GetSessionEvents("sess-1", 0)
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	got := events[0]
	if got.Type != event.TypeClick {
		t.Errorf("Expected type click, got %s", got.Type)
	}
	if got.Attributes["os"] != "android" {
		t.Error("Attributes lost in round trip")
	}
	if got.UserDefinedAttributes["tier"] != "gold" {
		t.Error("User attributes lost in round trip")
	}
	if !got.UserTriggered {
		t.Error("UserTriggered flag lost")
	}
	if got.BatchID != "" {
		t.Error("Fresh event should be unbatched")
	}
}

func TestClaimUnbatchedOldestFirst(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	base := time.Now()
	for i := range 5 {
		insertTestEvent(t, st, "sess-1", i, base.Add(time.Duration(i)*time.Second))
	}

	claimed, spans, err := st.ClaimUnbatched(3, "batch-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed != 3 || spans != 0 {
		t.Fatalf("Expected 3 events 0 spans, got %d/%d", claimed, spans)
	}

	events, err := st.GetBatchEvents("batch-1")
	if err != nil {
		t.Fatalf("Failed to get batch events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 batch events, got %d", len(events))
	}
	for i, e := range events {
		want := fmt.Sprintf("ev-sess-1-%d", i)
		if e.ID != want {
			t.Errorf("Expected oldest-first order, got %s at index %d", e.ID, i)
		}
	}
}

func TestClaimIsExclusive(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	base := time.Now()
	for i := range 4 {
		insertTestEvent(t, st, "sess-1", i, base.Add(time.Duration(i)*time.Second))
	}

	first, _, err := st.ClaimUnbatched(3, "batch-1")
	if err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	second, _, err := st.ClaimUnbatched(3, "batch-2")
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}

	if first != 3 || second != 1 {
		t.Fatalf("Expected 3/1 split across claims, got %d/%d", first, second)
	}

	b1, _ := st.GetBatchEvents("batch-1")
	b2, _ := st.GetBatchEvents("batch-2")
	seen := make(map[string]bool)
	for _, e := range append(b1, b2...) {
		if seen[e.ID] {
			t.Errorf("Event %s claimed by two batches", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestClaimSkipsSampledOutSessions(t *testing.T) {
	st := openTestStore(t)

	err := st.InsertSession(&event.Session{
		ID:        "sess-unsampled",
		PID:       1,
		CreatedAt: time.Now(),
		Sampled:   false,
	})
	if err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
	insertTestEvent(t, st, "sess-unsampled", 0, time.Now())

	claimed, _, err := st.ClaimUnbatched(10, "batch-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed != 0 {
		t.Fatalf("Sampled-out session should not be claimed, got %d", claimed)
	}

	// A crash flips needs_reporting, overriding the sampling decision
	if err := st.MarkCrashed("sess-unsampled"); err != nil {
		t.Fatalf("MarkCrashed failed: %v", err)
	}
	claimed, _, err = st.ClaimUnbatched(10, "batch-2")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("Crashed session must be exported in full, got %d claimed", claimed)
	}
}

func TestClaimReservesShareForSpans(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	base := time.Now()
	for i := range 10 {
		insertTestEvent(t, st, "sess-1", i, base.Add(time.Duration(i)*time.Second))
	}
	for i := range 2 {
		sp := &event.Span{
			SpanID:    fmt.Sprintf("sp-%d", i),
			TraceID:   "tr-1",
			Name:      "screen.load",
			SessionID: "sess-1",
			StartTime: base.Add(time.Duration(i) * time.Second),
			EndTime:   base.Add(time.Duration(i)*time.Second + 100*time.Millisecond),
			Duration:  100 * time.Millisecond,
		}
		if err := st.InsertSpan(sp); err != nil {
			t.Fatalf("Failed to insert span: %v", err)
		}
	}

	// Event pressure above the limit must not starve spans out of the
	// batch: a quarter of the limit is held back for them.
	events, spans, err := st.ClaimUnbatched(4, "batch-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if events != 3 || spans != 1 {
		t.Fatalf("Expected 3 events and 1 span, got %d/%d", events, spans)
	}

	// Drain both spans, then with no spans pending the full limit goes
	// to events
	if err := st.RollbackBatch("batch-1"); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if _, spans, err = st.ClaimUnbatched(8, "span-drain"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	} else if spans != 2 {
		t.Fatalf("Expected both spans drained, got %d", spans)
	}
	if err := st.DeleteBatch("span-drain"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	events, spans, err = st.ClaimUnbatched(4, "batch-2")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if events != 4 || spans != 0 {
		t.Fatalf("Expected leftover share to refill with events, got %d/%d", events, spans)
	}
}

func TestRollbackBatchReturnsRowsToPool(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	base := time.Now()
	for i := range 3 {
		insertTestEvent(t, st, "sess-1", i, base.Add(time.Duration(i)*time.Second))
	}

	if _, _, err := st.ClaimUnbatched(3, "batch-1"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := st.RollbackBatch("batch-1"); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	count, err := st.CountUnbatched()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 unbatched after rollback, got %d", count)
	}

	// Reclaim preserves oldest-first order
	claimed, _, err := st.ClaimUnbatched(3, "batch-2")
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if claimed != 3 {
		t.Fatalf("Expected to reclaim all 3, got %d", claimed)
	}
	events, _ := st.GetBatchEvents("batch-2")
	if events[0].ID != "ev-sess-1-0" {
		t.Errorf("Reclaim lost oldest-first order, got %s first", events[0].ID)
	}
}

func TestDeleteBatchCascadesAttachments(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	blobPath := filepath.Join(st.BlobDir(), "att-1")
	if err := os.WriteFile(blobPath, []byte("trace-data"), 0644); err != nil {
		t.Fatalf("Failed to write blob: %v", err)
	}

	e := &event.Event{
		ID:        "ev-1",
		SessionID: "sess-1",
		Timestamp: time.Now(),
		Type:      event.TypeException,
		Payload:   json.RawMessage(`{"handled":false}`),
		Attachments: []event.Attachment{
			{ID: "att-1", Name: "trace.bin", Type: event.AttachmentMethodTrace, Path: blobPath, Size: 10},
		},
	}
	if err := st.InsertEvent(e); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	if _, _, err := st.ClaimUnbatched(10, "batch-1"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := st.DeleteBatch("batch-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	events, err := st.GetSessionEvents("sess-1", 0)
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events after batch delete, got %d", len(events))
	}

	usage, err := st.AttachmentUsage()
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage != 0 {
		t.Errorf("Expected attachment rows cascaded, usage %d", usage)
	}
	if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
		t.Error("Expected attachment file removed with batch")
	}
}

func TestSpanClaimAndRollback(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-1")

	now := time.Now()
	sp := &event.Span{
		SpanID:    "sp-1",
		TraceID:   "tr-1",
		Name:      "screen.load",
		SessionID: "sess-1",
		StartTime: now,
		EndTime:   now.Add(100 * time.Millisecond),
		Duration:  100 * time.Millisecond,
		Status:    event.SpanStatusOK,
	}
	if err := st.InsertSpan(sp); err != nil {
		t.Fatalf("Failed to insert span: %v", err)
	}

	events, spans, err := st.ClaimUnbatched(10, "batch-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if events != 0 || spans != 1 {
		t.Fatalf("Expected 0 events 1 span, got %d/%d", events, spans)
	}

	got, err := st.GetBatchSpans("batch-1")
	if err != nil {
		t.Fatalf("Failed to get batch spans: %v", err)
	}
	if len(got) != 1 || got[0].SpanID != "sp-1" {
		t.Fatalf("Batch spans wrong: %+v", got)
	}
	if got[0].Duration != 100*time.Millisecond {
		t.Errorf("Span duration lost: %v", got[0].Duration)
	}

	if err := st.RollbackBatch("batch-1"); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	count, _ := st.CountUnbatchedSpans()
	if count != 1 {
		t.Errorf("Expected span back in pool, got %d", count)
	}
}

func TestSweepOlderThan(t *testing.T) {
	st := openTestStore(t)
	insertTestSession(t, st, "sess-old")
	insertTestSession(t, st, "sess-new")

	old := time.Now().Add(-48 * time.Hour)
	insertTestEvent(t, st, "sess-old", 0, old)
	insertTestEvent(t, st, "sess-new", 0, time.Now())

	// Even a claimed row is swept once past the horizon
	if _, _, err := st.ClaimUnbatched(1, "stuck-batch"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	deleted, err := st.SweepOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 row swept, got %d", deleted)
	}

	remaining, err := st.GetSessionEvents("sess-new", 0)
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("Recent event should survive sweep, got %d", len(remaining))
	}
}
