package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracepoint-sh/tracepoint/internal/config"
	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/exporter"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
	"github.com/tracepoint-sh/tracepoint/internal/session"
	"github.com/tracepoint-sh/tracepoint/internal/store"
)

// Pipeline is the single handle the host SDK constructs at init and
// passes to every collector. There is no global state: lifecycle is
// explicit via Start and Shutdown.
//
// All store writes are owned by one writer goroutine so concurrent
// producers serialize into a single commit stream; the exporter runs on
// its own goroutine and only ever touches rows it has atomically
// claimed.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	exporter *exporter.Exporter

	queue      chan writeOp
	writerDone chan struct{}

	cancelHeartbeat context.CancelFunc
	heartbeatDone   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool

	// qmu orders queue sends against the close in Shutdown: senders
	// hold it for read across the accepting check and the send, so a
	// send can never land on the closed queue.
	qmu       sync.RWMutex
	accepting bool
}

type writeOp struct {
	event *event.Event
	span  *event.Span
}

// TrackOptions carries one collector event into the pipeline
type TrackOptions struct {
	Type                  event.Type
	Timestamp             time.Time
	Payload               json.RawMessage
	Attributes            map[string]string
	UserDefinedAttributes map[string]string
	Attachments           []event.Attachment
	UserTriggered         bool

	// SessionOverride attributes the event to a past session instead
	// of the current one (e.g. a crash report found on next launch).
	SessionOverride string

	// Immediate forces a synchronous durable write and an immediate
	// flush. Used by crash/ANR handlers; the caller blocks until the
	// upload resolves or the flush timeout elapses.
	Immediate bool
}

// New constructs a pipeline from the config snapshot. The store is
// opened immediately so a construction error surfaces at SDK init.
// Host-constructed configs are sanitized here: an out-of-range knob
// must never crash the heartbeat or disable persistence.
func New(cfg *config.Config) (*Pipeline, error) {
	cfg.Sanitize()

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client, err := exporter.NewClient(cfg.Ingest)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create upload client: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		store:    st,
		sessions: session.NewManager(st, cfg),
		exporter: exporter.New(st, client, cfg),
		queue:    make(chan writeOp, cfg.Storage.QueueSize),
	}, nil
}

// Store exposes the underlying store for the debug CLI
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Sessions exposes the session manager for lifecycle collectors
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Start creates the initial session and starts the writer and the
// export heartbeat
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	if _, err := p.sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	p.writerDone = make(chan struct{})
	go p.runWriter()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelHeartbeat = cancel
	p.heartbeatDone = make(chan struct{})
	go func() {
		defer close(p.heartbeatDone)
		p.exporter.Run(ctx)
	}()

	p.started = true
	p.qmu.Lock()
	p.accepting = true
	p.qmu.Unlock()
	logger.Info().Msg("Pipeline started")
	return nil
}

func (p *Pipeline) isAccepting() bool {
	p.qmu.RLock()
	defer p.qmu.RUnlock()
	return p.accepting
}

// enqueue hands one write to the writer goroutine. The read lock spans
// the accepting check and the send, so Shutdown cannot close the queue
// between the two.
func (p *Pipeline) enqueue(op writeOp) bool {
	p.qmu.RLock()
	defer p.qmu.RUnlock()

	if !p.accepting {
		return false
	}
	select {
	case p.queue <- op:
		return true
	default:
		return false
	}
}

// Track accepts one event from a collector. Fire-and-forget: it never
// returns an error and never blocks the caller, except when Immediate
// is set, in which case it commits synchronously and flushes before
// returning because the process may be about to die.
func (p *Pipeline) Track(opts TrackOptions) {
	if !p.isAccepting() {
		logger.Debug().Msg("Pipeline not accepting, dropping event")
		return
	}

	e := &event.Event{
		ID:                    uuid.NewString(),
		SessionID:             opts.SessionOverride,
		Timestamp:             opts.Timestamp,
		Type:                  opts.Type,
		Payload:               opts.Payload,
		Attributes:            opts.Attributes,
		UserDefinedAttributes: opts.UserDefinedAttributes,
		Attachments:           opts.Attachments,
		UserTriggered:         opts.UserTriggered,
	}
	if e.SessionID == "" {
		e.SessionID = p.sessions.SessionID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for i := range e.Attachments {
		if e.Attachments[i].ID == "" {
			e.Attachments[i].ID = uuid.NewString()
		}
		e.Attachments[i].EventID = e.ID
	}

	if err := e.Validate(); err != nil {
		logger.Error().Err(err).Msg("Dropping malformed event")
		return
	}

	if opts.Immediate {
		p.trackImmediate(e)
		return
	}

	if !p.enqueue(writeOp{event: e}) {
		logger.Warn().
			Str("type", string(e.Type)).
			Msg("Write queue full, dropping event")
	}
}

// TrackSpan accepts one finished span from a collector. Fire-and-forget
// like Track.
func (p *Pipeline) TrackSpan(sp *event.Span) {
	if !p.isAccepting() {
		logger.Debug().Msg("Pipeline not accepting, dropping span")
		return
	}

	if sp.SpanID == "" {
		sp.SpanID = uuid.NewString()
	}
	if sp.SessionID == "" {
		sp.SessionID = p.sessions.SessionID()
	}
	if sp.Duration == 0 {
		sp.Duration = sp.EndTime.Sub(sp.StartTime)
	}

	if err := sp.Validate(); err != nil {
		logger.Error().Err(err).Msg("Dropping malformed span")
		return
	}

	if !p.enqueue(writeOp{span: sp}) {
		logger.Warn().Str("span", sp.Name).Msg("Write queue full, dropping span")
	}
}

// trackImmediate is the crash path: mark the session, commit the event
// on the calling thread, then flush with a bounded timeout. Everything
// is best-effort because the process may be unwinding; a failed flush
// still leaves the event durably queued.
func (p *Pipeline) trackImmediate(e *event.Event) {
	if e.Type.IsCrash() && e.SessionID == p.sessions.SessionID() {
		if err := p.sessions.MarkCrashed(); err != nil {
			logger.Error().Err(err).Msg("Failed to mark session crashed")
		}
	}

	if err := p.store.InsertEvent(e); err != nil {
		logger.Error().Err(err).Msg("Failed to persist immediate event")
		return
	}
	p.enforceQuota(e)

	if err := p.exporter.FlushNow(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Immediate flush failed, event stays queued")
	}
}

// FlushNow triggers a synchronous export pass outside the crash path
// (e.g. before a planned process exit)
func (p *Pipeline) FlushNow(ctx context.Context) error {
	return p.exporter.ExportOnce(ctx)
}

// OnAppForeground forwards a foreground transition to the session
// manager
func (p *Pipeline) OnAppForeground() {
	if err := p.sessions.OnAppForeground(); err != nil {
		logger.Error().Err(err).Msg("Failed to handle foreground transition")
	}
}

// OnAppBackground forwards a background transition to the session
// manager
func (p *Pipeline) OnAppBackground() {
	p.sessions.OnAppBackground()
}

// Shutdown stops the heartbeat, drains pending writes within the grace
// period allowed by ctx, and closes the store. Events already committed
// survive regardless; durability is per-row, not dependent on a clean
// shutdown.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline not running")
	}
	p.closed = true
	p.mu.Unlock()

	// Once the write lock is released every in-flight send has finished
	// and later sends see accepting false, so the close below is safe.
	p.qmu.Lock()
	p.accepting = false
	p.qmu.Unlock()

	p.cancelHeartbeat()
	<-p.heartbeatDone

	close(p.queue)
	select {
	case <-p.writerDone:
	case <-ctx.Done():
		logger.Warn().Msg("Shutdown grace period elapsed with writes pending")
	}

	if err := p.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	logger.Info().Msg("Pipeline stopped")
	return nil
}

// runWriter is the dedicated single-writer loop: it serializes all
// producer threads into one commit stream, preserving per-session
// arrival order.
func (p *Pipeline) runWriter() {
	defer close(p.writerDone)

	for op := range p.queue {
		switch {
		case op.event != nil:
			if err := p.store.InsertEvent(op.event); err != nil {
				// disk full or corrupt: drop this event, keep going
				logger.Error().Err(err).Msg("Failed to persist event")
				continue
			}
			p.enforceQuota(op.event)
		case op.span != nil:
			if err := p.store.InsertSpan(op.span); err != nil {
				logger.Error().Err(err).Msg("Failed to persist span")
			}
		}
	}
}

func (p *Pipeline) enforceQuota(e *event.Event) {
	if len(e.Attachments) == 0 {
		return
	}
	maxBytes := p.cfg.Storage.MaxDiskUsageMB * 1024 * 1024
	if _, err := p.store.EnforceQuota(maxBytes); err != nil {
		logger.Error().Err(err).Msg("Failed to enforce attachment quota")
	}
}
