// Package stream owns the push transport for one job subscription: it opens
// the connection, keeps it alive with periodic probes, detects failure, and
// reconnects with a fixed delay while the job is still active.
package stream

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/auth"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/model"
	"github.com/Aronwwo/ai-code-review-arena-sub000/internal/protocol"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultReconnectDelay    = 3 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 60 * time.Second
)

// Config holds connection manager settings for one subscription
type Config struct {
	JobID             string
	EventsURL         string // full stream URL, credential appended at dial time
	KeepAliveInterval time.Duration
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
}

func (c *Config) setDefaults() {
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

// Manager maintains at most one live transport for one job. Event frames
// are handed to onFrame; liveness replies are consumed here and never
// forwarded. Every connection state change is published via onState.
type Manager struct {
	cfg       Config
	dialer    Dialer
	creds     auth.CredentialProvider
	breaker   *Breaker
	jobActive func() bool
	onFrame   func([]byte)
	onState   func(model.ConnectionState)

	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conn  Conn
	state model.ConnectionState
}

// NewManager creates a connection manager. jobActive is consulted before
// every dial and reconnect so the manager never reconnects for a job that
// has already reached a terminal status.
func NewManager(cfg Config, dialer Dialer, creds auth.CredentialProvider, jobActive func() bool, onFrame func([]byte), onState func(model.ConnectionState)) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:       cfg,
		dialer:    dialer,
		creds:     creds,
		breaker:   NewBreaker(defaultBreakerThreshold, defaultBreakerCooldown),
		jobActive: jobActive,
		onFrame:   onFrame,
		onState:   onState,
		stop:      make(chan struct{}),
		state:     model.Disconnected,
	}
}

// Start begins maintaining the transport. If no credential is available the
// subscription stays disconnected and no transport attempt is made; the
// caller may start again once auth resolves.
func (m *Manager) Start(ctx context.Context) {
	if _, err := m.creds.Token(ctx); err != nil {
		slog.Debug("No credential, skipping transport", "job_id", m.cfg.JobID)
		m.setState(model.Disconnected)
		return
	}
	// The run loop gets its own cancel so Stop can abort an in-flight
	// dial and unblock a serving Read, independent of the caller's ctx.
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop closes the transport immediately, aborts any dial in flight,
// cancels any pending reconnect and keep-alive timer, and waits for the
// run loop to exit
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// State returns the current connection state
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run is the connection maintenance loop: dial, serve, and on loss schedule
// exactly one reconnect attempt after the configured delay. A single timer
// handle is pending at any moment, cancelled by Stop.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		if m.stopped() || ctx.Err() != nil || !m.jobActive() {
			m.setState(model.Disconnected)
			return
		}

		token, err := m.creds.Token(ctx)
		if err != nil {
			slog.Debug("Credential no longer available, stopping transport", "job_id", m.cfg.JobID)
			m.setState(model.Disconnected)
			return
		}

		if !m.breaker.Allow() {
			slog.Warn("Reconnect suppressed, circuit breaker open",
				"job_id", m.cfg.JobID,
				"breaker_state", m.breaker.StateName(),
			)
			if !m.waitReconnect(ctx) {
				m.setState(model.Disconnected)
				return
			}
			continue
		}

		m.setState(model.Connecting)
		conn, err := m.dial(ctx, token)
		if err != nil {
			m.breaker.RecordFailure()
			slog.Warn("Transport dial failed",
				"job_id", m.cfg.JobID,
				"error", err,
			)
			m.setState(model.Disconnected)
			if m.stopped() || !m.jobActive() || !m.waitReconnect(ctx) {
				return
			}
			continue
		}
		m.breaker.RecordSuccess()

		// Stop may have run while the dial was in flight; the connection
		// it could not see must not be served, or leaked.
		if m.stopped() || ctx.Err() != nil {
			conn.Close()
			m.setState(model.Disconnected)
			return
		}

		m.setConn(conn)
		m.setState(model.Connected)
		slog.Info("Transport connected", "job_id", m.cfg.JobID)

		m.serve(ctx, conn)

		m.setConn(nil)
		conn.Close()
		m.setState(model.Disconnected)

		if m.stopped() || ctx.Err() != nil || !m.jobActive() {
			return
		}
		slog.Info("Transport lost, reconnecting",
			"job_id", m.cfg.JobID,
			"delay", m.cfg.ReconnectDelay,
		)
		if !m.waitReconnect(ctx) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	return m.dialer.Dial(dialCtx, m.cfg.EventsURL+"?token="+url.QueryEscape(token))
}

// serve reads frames until the connection fails or the manager stops. The
// keep-alive probe runs alongside; a missed reply shows up as a transport
// close, which lands back here.
func (m *Manager) serve(ctx context.Context, conn Conn) {
	done := make(chan struct{})
	defer close(done)

	m.wg.Add(1)
	go m.keepAlive(ctx, conn, done)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if !m.stopped() && ctx.Err() == nil {
				slog.Warn("Transport read failed",
					"job_id", m.cfg.JobID,
					"error", err,
				)
			}
			return
		}
		if protocol.IsLivenessReply(data) {
			continue
		}
		m.onFrame(data)
	}
}

// keepAlive sends the liveness probe on a fixed interval for the lifetime
// of one connection
func (m *Manager) keepAlive(ctx context.Context, conn Conn, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
			err := conn.Write(writeCtx, []byte(protocol.LivenessProbe))
			cancel()
			if err != nil {
				// Failure surfaces through the read loop.
				return
			}
		case <-done:
			return
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// waitReconnect blocks for the reconnect delay; false means the manager
// was stopped while waiting
func (m *Manager) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) setState(state model.ConnectionState) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()
	if changed && m.onState != nil {
		m.onState(state)
	}
}
