// Package connection owns the single long-lived transport session used for
// automation delivery.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/scheduler"
)

var (
	ErrConnectionExhausted = errors.New("connection attempts exhausted")
	ErrConnectionTimeout   = errors.New("connection startup timed out")
	ErrAuthFailure         = errors.New("authentication failed")
	errSuperseded          = errors.New("connection attempt superseded")
)

const (
	DefaultSessionDir     = "./whatsapp-session"
	DefaultMaxAttempts    = 3
	DefaultStartupTimeout = 2 * time.Minute
	DefaultReconnectDelay = 5 * time.Second
	DefaultCleanupDelay   = time.Second
)

type Options struct {
	SessionDir     string
	MaxAttempts    int
	StartupTimeout time.Duration
	ReconnectDelay time.Duration
	CleanupDelay   time.Duration
	// OnCredential renders a pairing credential to the operator. It runs in
	// its own goroutine; failures never reach the manager.
	OnCredential func(code string)
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SessionDir == "" {
		o.SessionDir = DefaultSessionDir
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.CleanupDelay <= 0 {
		o.CleanupDelay = DefaultCleanupDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Manager struct {
	transport Transport
	opts      Options
	log       *slog.Logger

	mu         sync.Mutex
	session    Session
	state      model.ConnectionState
	ready      bool
	connecting bool
	lastError  error
	credential string
	attempts   int
	// generation identifies the current session; events and tasks carrying
	// an older generation are ignored.
	generation uint64

	timeoutTask   *scheduler.Task
	reconnectTask *scheduler.Task
	cleanupTask   *scheduler.Task
}

func NewManager(t Transport, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		transport: t,
		opts:      opts,
		log:       opts.Logger.With("component", "connection_manager"),
		state:     model.StateDisconnected,
	}
}

// Initialize starts a connection attempt. It is a no-op while connecting or
// once ready, and fails with ErrConnectionExhausted after MaxAttempts
// consecutive attempts that never reached ready.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting || m.ready {
		m.mu.Unlock()
		return nil
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.lastError = ErrConnectionExhausted
		m.mu.Unlock()
		return ErrConnectionExhausted
	}

	m.attempts++
	m.lastError = nil
	m.credential = ""
	m.connecting = true
	m.state = model.StateConnecting
	m.generation++
	gen := m.generation
	attempt := m.attempts

	old := m.session
	m.session = nil
	stopTask(m.reconnectTask)
	stopTask(m.timeoutTask)
	owedCleanup := stopTask(m.cleanupTask)
	m.mu.Unlock()

	m.log.Info("connection attempt started", "attempt", attempt, "max_attempts", m.opts.MaxAttempts)

	m.teardown(old)
	if owedCleanup {
		m.removeSessionDir()
	}

	if err := os.MkdirAll(m.opts.SessionDir, 0o700); err != nil {
		return m.failOpen(gen, fmt.Errorf("create session dir: %w", err))
	}

	openCtx, cancel := context.WithTimeout(ctx, m.opts.StartupTimeout)
	defer cancel()

	sess, events, err := m.transport.Open(openCtx)
	if err != nil {
		return m.failOpen(gen, fmt.Errorf("open session: %w", err))
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.teardown(sess)
		return errSuperseded
	}
	m.session = sess
	m.timeoutTask = m.arm("startup-timeout", m.opts.StartupTimeout, func(context.Context) {
		m.onStartupTimeout(gen)
	})
	m.mu.Unlock()

	go m.consume(gen, events)
	return nil
}

// CurrentCredential returns the pending pairing credential, if any.
func (m *Manager) CurrentCredential() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, m.credential != ""
}

func (m *Manager) Status() model.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := model.ConnectionStatus{
		State:          m.state,
		Ready:          m.ready,
		SessionPresent: m.session != nil,
		Connecting:     m.connecting,
		Credential:     m.credential,
		Attempts:       m.attempts,
	}
	if m.lastError != nil {
		st.LastError = m.lastError.Error()
	}
	return st
}

// Session returns the live session only when the connection is ready.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready || m.session == nil {
		return nil, false
	}
	return m.session, true
}

// Disconnect cancels pending reconnect, cleanup and timeout work, tears the
// session down and resets the manager to its initial state.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	stopTask(m.reconnectTask)
	stopTask(m.timeoutTask)
	owedCleanup := stopTask(m.cleanupTask)

	sess := m.session
	m.session = nil
	m.ready = false
	m.connecting = false
	m.lastError = nil
	m.credential = ""
	m.attempts = 0
	m.state = model.StateDisconnected
	m.generation++
	m.mu.Unlock()

	var err error
	if sess != nil {
		if cerr := sess.Close(); cerr != nil {
			m.log.Warn("session close failed", "error", cerr)
			err = fmt.Errorf("close session: %w", cerr)
		}
	}
	if owedCleanup {
		m.removeSessionDir()
	}

	m.log.Info("connection manager disconnected")
	return err
}

// ResetAttempts clears the attempt counter and last error so Initialize can
// be tried again. The session is left untouched.
func (m *Manager) ResetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = 0
	m.lastError = nil
	if m.state == model.StateFailed && !m.connecting {
		m.state = model.StateDisconnected
	}
}

func (m *Manager) consume(gen uint64, events <-chan Event) {
	for ev := range events {
		m.handle(gen, ev)
	}
}

func (m *Manager) handle(gen uint64, ev Event) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.log.Debug("stale session event ignored", "event", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case EventCredential:
		m.credential = ev.Code
		m.state = model.StateAwaitingCredential
		render := m.opts.OnCredential
		m.mu.Unlock()

		m.log.Info("pairing credential received")
		if render != nil {
			go m.render(render, ev.Code)
		}
		return

	case EventReady:
		m.ready = true
		m.connecting = false
		m.credential = ""
		m.attempts = 0
		m.lastError = nil
		m.state = model.StateReady
		stopTask(m.timeoutTask)
		m.mu.Unlock()

		m.log.Info("connection ready")
		return

	case EventAuthenticated:
		m.mu.Unlock()
		m.log.Info("session authenticated")
		return

	case EventAuthFailure:
		m.ready = false
		m.connecting = false
		m.lastError = fmt.Errorf("%w: %s", ErrAuthFailure, ev.Reason)
		m.state = model.StateFailed
		stopTask(m.timeoutTask)
		m.cleanupTask = m.arm("session-cleanup", m.opts.CleanupDelay, func(context.Context) {
			m.cleanup(gen)
		})
		m.mu.Unlock()

		m.log.Error("authentication failure", "reason", ev.Reason)
		return

	case EventDisconnected:
		reason := ev.Reason
		if reason == "" {
			reason = "disconnected"
		}
		m.ready = false
		m.connecting = false
		m.credential = ""
		m.lastError = errors.New(reason)
		m.state = model.StateDisconnected
		stopTask(m.timeoutTask)
		if !ev.LoggedOut {
			m.reconnectTask = m.arm("reconnect", m.opts.ReconnectDelay, m.reconnect)
		}
		m.mu.Unlock()

		m.log.Warn("connection lost", "reason", reason, "logged_out", ev.LoggedOut)
		return
	}

	m.mu.Unlock()
	m.log.Warn("unknown session event", "event", ev.Kind.String())
}

func (m *Manager) reconnect(ctx context.Context) {
	m.log.Info("reconnecting")
	// Initialize stops the reconnect task, which would cancel ctx mid-open.
	if err := m.Initialize(context.WithoutCancel(ctx)); err != nil {
		m.log.Error("reconnect failed", "error", err)
	}
}

func (m *Manager) onStartupTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.ready {
		m.mu.Unlock()
		return
	}
	m.lastError = ErrConnectionTimeout
	m.connecting = false
	m.state = model.StateFailed
	m.credential = ""
	sess := m.session
	m.session = nil
	m.generation++
	m.mu.Unlock()

	m.log.Error("connection startup timed out", "timeout", m.opts.StartupTimeout.String())
	m.teardown(sess)
}

// cleanup destroys the session and its persisted credentials after an
// authentication failure.
func (m *Manager) cleanup(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.session = nil
	m.generation++
	m.mu.Unlock()

	m.teardown(sess)
	m.removeSessionDir()
}

func (m *Manager) failOpen(gen uint64, err error) error {
	m.mu.Lock()
	if gen == m.generation {
		m.lastError = err
		m.session = nil
		m.connecting = false
		m.state = model.StateFailed
		stopTask(m.timeoutTask)
	}
	m.mu.Unlock()

	m.log.Error("connection attempt failed", "error", err)
	return err
}

func (m *Manager) teardown(sess Session) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		m.log.Warn("session teardown failed", "error", err)
	}
}

func (m *Manager) removeSessionDir() {
	if err := os.RemoveAll(m.opts.SessionDir); err != nil {
		m.log.Warn("session storage cleanup failed", "dir", m.opts.SessionDir, "error", err)
		return
	}
	m.log.Info("session storage removed", "dir", m.opts.SessionDir)
}

func (m *Manager) render(fn func(string), code string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("credential render panic recovered", "panic", r)
		}
	}()
	fn(code)
}

// arm must be called with m.mu held.
func (m *Manager) arm(name string, d time.Duration, fn func(context.Context)) *scheduler.Task {
	t, err := scheduler.After(name, d, fn)
	if err != nil {
		m.log.Error("failed to schedule task", "task", name, "error", err)
		return nil
	}
	return t
}

func stopTask(t *scheduler.Task) bool {
	if t == nil {
		return false
	}
	return t.Stop()
}
