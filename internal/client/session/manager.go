// Package session keeps a client-side session alive: it persists the token
// pair, schedules the idle logout and proactive refresh timers, and
// synchronizes activity and logout with same-origin peers.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/akarpov87/schoolauth/internal/client/api"
	"github.com/akarpov87/schoolauth/internal/client/config"
	"github.com/akarpov87/schoolauth/internal/logging"
)

// EndReason tells the application why the session ended.
type EndReason string

const (
	EndIdle          EndReason = "idle"
	EndExpired       EndReason = "expired"
	EndRefreshFailed EndReason = "refresh_failed"
	EndLogout        EndReason = "logout"
	EndPeerLogout    EndReason = "peer_logout"
)

// API is the part of the HTTP client the manager drives on its own.
type API interface {
	Refresh(ctx context.Context, accessToken, refreshToken string) (*api.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken, scope string) error
}

// Manager owns the session lifecycle after a successful login. All methods
// are safe for concurrent use.
type Manager struct {
	api       API
	storage   Storage
	broadcast Broadcaster
	logger    logging.Logger

	idleFraction    float64
	refreshFraction float64
	now             func() time.Time
	onEnd           func(EndReason)

	mu           sync.Mutex
	idleTimer    *time.Timer
	refreshTimer *time.Timer
	unsubs       []func()
	refreshing   bool
	closed       bool
}

// NewManager wires the lifecycle manager. onEnd is invoked, possibly from a
// timer goroutine, whenever the session ends for any reason.
func NewManager(apiClient API, storage Storage, broadcast Broadcaster, logger logging.Logger, cfg *config.Config, onEnd func(EndReason)) *Manager {
	if onEnd == nil {
		onEnd = func(EndReason) {}
	}
	return &Manager{
		api:             apiClient,
		storage:         storage,
		broadcast:       broadcast,
		logger:          logger.With("module", "session"),
		idleFraction:    cfg.IdleFraction,
		refreshFraction: cfg.RefreshFraction,
		now:             time.Now,
		onEnd:           onEnd,
	}
}

// WithClock replaces the time source. Test seam.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Start performs cold-start reconciliation against persisted state and
// subscribes to peer broadcasts. With no persisted session it is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.unsubs = append(m.unsubs,
		m.broadcast.Subscribe(TopicActivity, m.peerActivity),
		m.broadcast.Subscribe(TopicLogout, m.peerLogout),
	)
	m.mu.Unlock()

	state, ok := m.storage.Load()
	if !ok {
		return nil
	}

	now := m.now()
	if now.Before(state.AccessExpiry) {
		m.mu.Lock()
		m.scheduleLocked(state)
		m.mu.Unlock()
		return nil
	}

	// access token already expired while we were away
	if !state.RememberMe || !now.Before(state.RefreshExpiry) {
		// nothing worth revoking remotely
		m.storage.Clear()
		m.onEnd(EndExpired)
		return nil
	}

	// exactly one refresh attempt decides whether the session survives
	m.setRefreshing(true)
	defer m.setRefreshing(false)

	res, err := m.api.Refresh(ctx, state.AccessToken, state.RefreshToken)
	if err != nil {
		m.logger.Warn(ctx, "cold-start refresh failed", "error", err.Error())
		m.storage.Clear()
		m.onEnd(EndRefreshFailed)
		return err
	}

	m.SetSession(res, state.RememberMe)
	return nil
}

// SetSession installs a fresh token pair, typically right after login or
// register, and (re)schedules both timers.
func (m *Manager) SetSession(res *api.AuthResponse, rememberMe bool) {
	now := m.now()
	state := &State{
		AccessToken:   res.AccessToken,
		RefreshToken:  res.RefreshToken,
		User:          res.User,
		IssuedAt:      now,
		AccessExpiry:  now.Add(time.Duration(res.ExpiresIn) * time.Second),
		RefreshExpiry: now.Add(time.Duration(res.RefreshTokenExpiresIn) * time.Second),
		RememberMe:    rememberMe,
	}
	m.storage.Save(state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLocked(state)
}

// Activity reports user interaction: the idle deadline slides forward and
// peers are told to do the same.
func (m *Manager) Activity() {
	m.mu.Lock()
	m.resetIdleLocked()
	m.mu.Unlock()
	m.broadcast.Publish(TopicActivity)
}

// Logout ends the session at the given scope, voluntarily.
func (m *Manager) Logout(ctx context.Context, scope string) error {
	state, ok := m.storage.Load()
	if !ok {
		return nil
	}

	err := m.api.Logout(ctx, state.AccessToken, state.RefreshToken, scope)
	if err != nil {
		m.logger.Warn(ctx, "server logout failed", "error", err.Error())
	}

	m.endLocal(EndLogout)
	return err
}

// RefreshInProgress reports whether a refresh is in flight, so callers can
// wait for the outcome instead of assuming the session is gone.
func (m *Manager) RefreshInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing
}

// Authenticated reports whether a usable session exists right now.
func (m *Manager) Authenticated() bool {
	state, ok := m.storage.Load()
	return ok && m.now().Before(state.AccessExpiry)
}

// AccessToken returns the current access token, empty when logged out.
func (m *Manager) AccessToken() string {
	state, ok := m.storage.Load()
	if !ok {
		return ""
	}
	return state.AccessToken
}

// Close releases every timer, listener and broadcast subscription. The
// persisted state is left alone; a later Start picks the session back up.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopTimersLocked()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *Manager) scheduleLocked(state *State) {
	m.stopTimersLocked()
	if m.closed {
		return
	}

	window := state.AccessExpiry.Sub(state.IssuedAt)
	now := m.now()

	if validFraction(m.idleFraction) {
		due := state.IssuedAt.Add(time.Duration(m.idleFraction * float64(window))).Sub(now)
		m.idleTimer = time.AfterFunc(maxDuration(due, 0), m.idleExpired)
	}
	if validFraction(m.refreshFraction) {
		// fire when the configured fraction of the window remains,
		// immediately if that instant already passed (device was asleep)
		due := state.IssuedAt.Add(time.Duration((1 - m.refreshFraction) * float64(window))).Sub(now)
		m.refreshTimer = time.AfterFunc(maxDuration(due, 0), m.refreshDue)
	}
}

func (m *Manager) resetIdleLocked() {
	if m.closed || m.idleTimer == nil || !validFraction(m.idleFraction) {
		return
	}
	state, ok := m.storage.Load()
	if !ok {
		return
	}
	window := state.AccessExpiry.Sub(state.IssuedAt)
	m.idleTimer.Stop()
	m.idleTimer = time.AfterFunc(time.Duration(m.idleFraction*float64(window)), m.idleExpired)
}

func (m *Manager) stopTimersLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

func (m *Manager) idleExpired() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.logger.Info(ctx, "idle deadline reached, logging out")

	if state, ok := m.storage.Load(); ok {
		if err := m.api.Logout(ctx, state.AccessToken, state.RefreshToken, "CurrentBrowser"); err != nil {
			m.logger.Warn(ctx, "idle logout failed", "error", err.Error())
		}
	}
	m.endLocal(EndIdle)
}

func (m *Manager) refreshDue() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.refreshing = true
	m.mu.Unlock()
	defer m.setRefreshing(false)

	ctx := context.Background()

	state, ok := m.storage.Load()
	if !ok {
		return
	}

	res, err := m.api.Refresh(ctx, state.AccessToken, state.RefreshToken)
	if err != nil {
		// never retried: a loop could amplify a theft-detection revocation
		m.logger.Warn(ctx, "proactive refresh failed, logging out", "error", err.Error())
		m.endLocal(EndRefreshFailed)
		return
	}

	m.SetSession(res, state.RememberMe)
}

func (m *Manager) peerActivity() {
	m.mu.Lock()
	m.resetIdleLocked()
	m.mu.Unlock()
}

func (m *Manager) peerLogout() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()
	m.mu.Unlock()

	m.storage.Clear()
	m.onEnd(EndPeerLogout)
}

// endLocal tears the session down locally and tells the peers.
func (m *Manager) endLocal(reason EndReason) {
	m.mu.Lock()
	m.stopTimersLocked()
	m.mu.Unlock()

	m.storage.Clear()
	m.broadcast.Publish(TopicLogout)
	m.onEnd(reason)
}

func (m *Manager) setRefreshing(v bool) {
	m.mu.Lock()
	m.refreshing = v
	m.mu.Unlock()
}

func validFraction(f float64) bool { return f > 0 && f <= 1 }

func maxDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
