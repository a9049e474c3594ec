package session

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracepoint-sh/tracepoint/internal/config"
	"github.com/tracepoint-sh/tracepoint/internal/event"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
	"github.com/tracepoint-sh/tracepoint/internal/store"
)

var processStart = time.Now()

// Uptime returns the monotonic time elapsed since process start. Wall
// clocks can jump; the background threshold comparison must not.
func Uptime() time.Duration {
	return time.Since(processStart)
}

// Manager decides whether incoming events belong to the current session
// or start a new one. A session ends when the app returns to foreground
// after being backgrounded for at least the configured threshold; the
// old session row stays durable and is simply superseded.
type Manager struct {
	store  *store.Store
	cfg    *config.Config
	uptime func() time.Duration
	randFn func() float64

	mu           sync.Mutex
	sessionID    string
	crashed      bool
	backgroundAt time.Duration

	// AppVersion and AppBuild are stamped onto every session row
	AppVersion string
	AppBuild   string
}

// NewManager creates a session manager. It holds no session until
// Start is called.
func NewManager(st *store.Store, cfg *config.Config) *Manager {
	return &Manager{
		store:  st,
		cfg:    cfg,
		uptime: Uptime,
		randFn: rand.Float64,
	}
}

// Start creates the initial session and persists it synchronously.
// Must be called before any accessor.
func (m *Manager) Start() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.newSessionLocked()
	if err != nil {
		return "", err
	}
	logger.Debug().Str("session", id).Msg("Created new session")
	return id, nil
}

// SessionID returns the current session id. Calling it before Start is
// a programmer error and panics.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		panic("session: SessionID called before Start")
	}
	return m.sessionID
}

// OnAppBackground records the uptime at which the app left foreground
func (m *Manager) OnAppBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backgroundAt = m.uptime()
}

// OnAppForeground rotates the session if the app spent at least the
// configured threshold in background. The superseded session row is
// already durable and is left untouched.
func (m *Manager) OnAppForeground() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backgroundAt == 0 {
		// first foreground, app was never backgrounded
		return nil
	}

	elapsed := m.uptime() - m.backgroundAt
	m.backgroundAt = 0

	threshold := time.Duration(m.cfg.Session.EndThresholdMS) * time.Millisecond
	if elapsed < threshold {
		return nil
	}

	id, err := m.newSessionLocked()
	if err != nil {
		return err
	}
	logger.Debug().
		Str("session", id).
		Dur("backgrounded", elapsed).
		Msg("Created new session after background threshold")
	return nil
}

// MarkCrashed flags the current session as crashed and needing a full
// report. Idempotent; the flags are never cleared.
func (m *Manager) MarkCrashed() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		panic("session: MarkCrashed called before Start")
	}
	if m.crashed {
		return nil
	}
	if err := m.store.MarkCrashed(m.sessionID); err != nil {
		return err
	}
	m.crashed = true
	return nil
}

// Crashed reports whether the current session has been marked crashed
func (m *Manager) Crashed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crashed
}

func (m *Manager) newSessionLocked() (string, error) {
	id := uuid.NewString()

	// The sampling decision is recorded now but only consulted at
	// export time, so a session that later crashes still has all of
	// its data on disk.
	sampled := m.randFn() < m.cfg.Session.SamplingRate

	sess := &event.Session{
		ID:         id,
		PID:        os.Getpid(),
		CreatedAt:  time.Now(),
		Sampled:    sampled,
		AppVersion: m.AppVersion,
		AppBuild:   m.AppBuild,
	}
	if err := m.store.InsertSession(sess); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	m.sessionID = id
	m.crashed = false
	return id, nil
}
