package exporter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/tracepoint-sh/tracepoint/internal/config"
	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
	"github.com/tracepoint-sh/tracepoint/internal/store"
)

// Exporter drains the store in batches: claim unbatched rows, upload,
// then delete on ack or roll the claim back for a later heartbeat.
// Batch lifecycle: Unclaimed -> Claimed -> Uploading -> deleted | rolled back.
type Exporter struct {
	store  *store.Store
	client *Client
	cfg    *config.Config

	// retryInitial seeds the exponential backoff; tests shrink it
	retryInitial time.Duration

	isExporting atomic.Bool
}

// New creates an exporter over the given store and upload client
func New(st *store.Store, client *Client, cfg *config.Config) *Exporter {
	return &Exporter{
		store:        st,
		client:       client,
		cfg:          cfg,
		retryInitial: time.Second,
	}
}

// Run drives periodic export on the heartbeat interval and a daily-ish
// TTL sweep, until ctx is cancelled. It owns all routine HTTP calls, so
// a slow upload never stalls event ingestion.
func (e *Exporter) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.Batching.IntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(time.Hour)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("Export heartbeat failed")
			}
		case <-sweepTicker.C:
			ttl := time.Duration(e.cfg.Storage.EventTTLHours) * time.Hour
			if _, err := e.store.SweepOlderThan(ttl); err != nil {
				logger.Error().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

// ExportOnce claims and uploads batches until the unbatched pool is
// drained or an upload fails. Concurrent calls are collapsed: if an
// export is already running the call is a no-op.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	if !e.isExporting.CompareAndSwap(false, true) {
		logger.Debug().Msg("Export already in progress, skipping")
		return nil
	}
	defer e.isExporting.Store(false)

	for {
		done, err := e.exportBatch(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// FlushNow is the crash/ANR path: it claims and uploads synchronously,
// bounded by the configured flush timeout. On timeout or failure the
// claim is rolled back, leaving the data durably queued for the next
// heartbeat. It bypasses the in-progress gate; batch claims are atomic
// so a concurrent heartbeat can never share rows with it.
func (e *Exporter) FlushNow(ctx context.Context) error {
	timeout := time.Duration(e.cfg.Batching.FlushTimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := e.exportBatch(ctx)
	return err
}

// exportBatch runs one claim+upload cycle. Returns done=true when
// there was nothing left to claim.
func (e *Exporter) exportBatch(ctx context.Context) (bool, error) {
	batchID := uuid.NewString()

	claimedEvents, claimedSpans, err := e.store.ClaimUnbatched(e.cfg.Batching.MaxEventsInBatch, batchID)
	if err != nil {
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}
	if claimedEvents == 0 && claimedSpans == 0 {
		return true, nil
	}

	events, err := e.store.GetBatchEvents(batchID)
	if err != nil {
		e.rollback(batchID)
		return false, err
	}
	spans, err := e.store.GetBatchSpans(batchID)
	if err != nil {
		e.rollback(batchID)
		return false, err
	}

	payload := &event.BatchPayload{
		Events: make([]event.EventPacket, 0, len(events)),
		Spans:  make([]event.SpanPacket, 0, len(spans)),
	}
	for _, ev := range events {
		payload.Events = append(payload.Events, event.NewEventPacket(ev))
	}
	for _, sp := range spans {
		payload.Spans = append(payload.Spans, event.NewSpanPacket(sp))
	}

	logger.Debug().
		Str("batch", batchID).
		Int("events", len(events)).
		Int("spans", len(spans)).
		Msg("Uploading batch")

	resp := e.uploadWithRetry(ctx, batchID, payload)

	switch resp.Class {
	case ResponseSuccess:
		e.handleAck(ctx, resp.Ack, events)
		if err := e.store.DeleteBatch(batchID); err != nil {
			return false, fmt.Errorf("failed to delete acked batch: %w", err)
		}
		logger.Debug().Str("batch", batchID).Msg("Batch acknowledged and deleted")
		// partial batch means the pool is drained
		return claimedEvents+claimedSpans < e.cfg.Batching.MaxEventsInBatch, nil

	case ResponseClientError:
		// resubmission cannot succeed; drop the batch
		logger.Error().
			Str("batch", batchID).
			Int("status", resp.StatusCode).
			Err(resp.Err).
			Msg("Batch permanently rejected, dropping")
		if err := e.store.DeleteBatch(batchID); err != nil {
			return false, fmt.Errorf("failed to delete rejected batch: %w", err)
		}
		return false, nil

	default:
		// retries exhausted; return rows to the unbatched pool
		logger.Warn().
			Str("batch", batchID).
			Int("status", resp.StatusCode).
			Err(resp.Err).
			Msg("Batch upload failed, rolling back claim")
		e.rollback(batchID)
		return false, fmt.Errorf("batch upload failed: %w", resp.Err)
	}
}

// uploadWithRetry uploads the same claimed batch with exponential
// backoff on 5xx/network errors, up to the configured retry cap. 4xx
// and 2xx stop immediately.
func (e *Exporter) uploadWithRetry(ctx context.Context, batchID string, payload *event.BatchPayload) Response {
	var last Response

	operation := func() (struct{}, error) {
		last = e.client.SendBatch(ctx, batchID, payload)
		if last.Retryable() {
			return struct{}{}, fmt.Errorf("retryable upload failure: %w", last.Err)
		}
		return struct{}{}, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.retryInitial

	_, _ = backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(e.cfg.Batching.MaxRetries+1)),
	)

	return last
}

// handleAck uploads attachment blobs to the signed URLs returned by the
// server. Best-effort: a failed blob upload is logged and the blob is
// dropped with the batch.
func (e *Exporter) handleAck(ctx context.Context, ack *event.BatchAck, events []*event.Event) {
	if ack == nil || len(ack.Attachments) == 0 {
		return
	}

	byID := make(map[string]*event.Attachment)
	for _, ev := range events {
		for i := range ev.Attachments {
			byID[ev.Attachments[i].ID] = &ev.Attachments[i]
		}
	}

	for _, ref := range ack.Attachments {
		a, ok := byID[ref.ID]
		if !ok {
			logger.Debug().Str("attachment", ref.ID).Msg("Ack references unknown attachment")
			continue
		}

		// Record the URL first so the quota enforcer treats the row as
		// synced while the blob is in flight.
		if err := e.store.UpdateAttachmentURL(ref.ID, ref.UploadURL); err != nil {
			logger.Debug().Err(err).Str("attachment", ref.ID).Msg("Failed to record upload url")
		}

		data, err := e.store.ReadAttachmentData(a)
		if err != nil {
			logger.Error().Err(err).Str("attachment", ref.ID).Msg("Failed to read attachment, dropping")
			if err := e.store.DeleteAttachment(ref.ID); err != nil {
				logger.Debug().Err(err).Str("attachment", ref.ID).Msg("Failed to delete attachment")
			}
			continue
		}

		if err := e.client.UploadBlob(ctx, ref.UploadURL, ref.Headers, data); err != nil {
			logger.Error().Err(err).Str("attachment", ref.ID).Msg("Attachment upload failed")
			continue
		}

		if err := e.store.DeleteAttachment(ref.ID); err != nil {
			logger.Debug().Err(err).Str("attachment", ref.ID).Msg("Failed to delete uploaded attachment")
		}
		logger.Debug().Str("attachment", ref.ID).Msg("Attachment uploaded")
	}
}

func (e *Exporter) rollback(batchID string) {
	if err := e.store.RollbackBatch(batchID); err != nil {
		logger.Error().Err(err).Str("batch", batchID).Msg("Failed to roll back batch claim")
	}
}
