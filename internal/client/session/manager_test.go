package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/schoolauth/internal/client/api"
	"github.com/akarpov87/schoolauth/internal/client/config"
	"github.com/akarpov87/schoolauth/internal/logging"
)

type stubAPI struct {
	mu           sync.Mutex
	refreshRes   *api.AuthResponse
	refreshErr   error
	refreshCalls int
	logoutScopes []string
}

func (s *stubAPI) Refresh(_ context.Context, _, _ string) (*api.AuthResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.refreshRes, nil
}

func (s *stubAPI) Logout(_ context.Context, _, _, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutScopes = append(s.logoutScopes, scope)
	return nil
}

func (s *stubAPI) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *stubAPI) lastLogoutScope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logoutScopes) == 0 {
		return ""
	}
	return s.logoutScopes[len(s.logoutScopes)-1]
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig(idle, refresh float64) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.IdleFraction = idle
	cfg.RefreshFraction = refresh
	return cfg
}

func newTestManager(t *testing.T, stub *stubAPI, cfg *config.Config) (*Manager, *MemoryStorage, chan EndReason) {
	t.Helper()
	storage := NewMemoryStorage()
	ends := make(chan EndReason, 8)
	m := NewManager(stub, storage, NewHub().Endpoint(), testLogger(), cfg,
		func(r EndReason) { ends <- r })
	t.Cleanup(m.Close)
	return m, storage, ends
}

func tokenPair(access string, accessSeconds, refreshSeconds int) *api.AuthResponse {
	return &api.AuthResponse{
		AccessToken:           access,
		RefreshToken:          access + "-refresh",
		ExpiresIn:             accessSeconds,
		RefreshTokenExpiresIn: refreshSeconds,
		TokenType:             "Bearer",
	}
}

func waitEnd(t *testing.T, ends chan EndReason, want EndReason) {
	t.Helper()
	select {
	case got := <-ends:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end with %q", want)
	}
}

func assertNoEnd(t *testing.T, ends chan EndReason, within time.Duration) {
	t.Helper()
	select {
	case got := <-ends:
		t.Fatalf("session ended unexpectedly: %q", got)
	case <-time.After(within):
	}
}

func TestSetSessionPersists(t *testing.T) {
	m, storage, _ := newTestManager(t, &stubAPI{}, testConfig(0, 0))

	m.SetSession(tokenPair("acc", 60, 3600), true)

	state, ok := storage.Load()
	require.True(t, ok)
	assert.Equal(t, "acc", state.AccessToken)
	assert.Equal(t, "acc-refresh", state.RefreshToken)
	assert.True(t, state.RememberMe)
	assert.Equal(t, time.Minute, state.AccessExpiry.Sub(state.IssuedAt))

	assert.True(t, m.Authenticated())
	assert.Equal(t, "acc", m.AccessToken())
}

func TestIdleTimerLogsOut(t *testing.T) {
	stub := &stubAPI{}
	// 1s window, idle fires at 50ms
	m, storage, ends := newTestManager(t, stub, testConfig(0.05, 0))

	m.SetSession(tokenPair("acc", 1, 3600), false)

	waitEnd(t, ends, EndIdle)
	assert.Equal(t, "CurrentBrowser", stub.lastLogoutScope())
	_, ok := storage.Load()
	assert.False(t, ok)
}

func TestActivityResetsIdleTimer(t *testing.T) {
	stub := &stubAPI{}
	// idle fires 100ms after the last activity
	m, _, ends := newTestManager(t, stub, testConfig(0.1, 0))

	m.SetSession(tokenPair("acc", 1, 3600), false)

	// keep poking for 300ms, three timer windows
	for i := 0; i < 6; i++ {
		time.Sleep(50 * time.Millisecond)
		m.Activity()
	}
	assertNoEnd(t, ends, 50*time.Millisecond)

	// silence lets it fire
	waitEnd(t, ends, EndIdle)
}

func TestProactiveRefresh(t *testing.T) {
	stub := &stubAPI{refreshRes: tokenPair("acc2", 60, 3600)}
	// refresh fires when 90% of the window remains, 100ms in
	m, storage, _ := newTestManager(t, stub, testConfig(0, 0.9))

	m.SetSession(tokenPair("acc1", 1, 3600), false)

	require.Eventually(t, func() bool {
		state, ok := storage.Load()
		return ok && state.AccessToken == "acc2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, stub.refreshCount())
}

func TestRefreshFailureForcesLogoutWithoutRetry(t *testing.T) {
	stub := &stubAPI{refreshErr: context.DeadlineExceeded}
	m, storage, ends := newTestManager(t, stub, testConfig(0, 0.9))

	m.SetSession(tokenPair("acc", 1, 3600), false)

	waitEnd(t, ends, EndRefreshFailed)
	_, ok := storage.Load()
	assert.False(t, ok)

	// no silent retry follows
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, stub.refreshCount())
}

func TestFractionsOutOfRangeDisableTimers(t *testing.T) {
	stub := &stubAPI{}
	m, _, ends := newTestManager(t, stub, testConfig(0, 1.5))

	m.SetSession(tokenPair("acc", 1, 3600), false)

	// well past both would-be deadlines
	assertNoEnd(t, ends, 1200*time.Millisecond)
	assert.Equal(t, 0, stub.refreshCount())
}

func TestColdStartWithValidSession(t *testing.T) {
	stub := &stubAPI{}
	m, storage, _ := newTestManager(t, stub, testConfig(0, 0))

	now := time.Now()
	storage.Save(&State{
		AccessToken:   "acc",
		RefreshToken:  "ref",
		IssuedAt:      now,
		AccessExpiry:  now.Add(time.Hour),
		RefreshExpiry: now.Add(24 * time.Hour),
	})

	require.NoError(t, m.Start(t.Context()))
	assert.True(t, m.Authenticated())
	assert.Equal(t, 0, stub.refreshCount())
}

func TestColdStartExpiredWithoutRememberMe(t *testing.T) {
	stub := &stubAPI{}
	m, storage, ends := newTestManager(t, stub, testConfig(0, 0))

	now := time.Now()
	storage.Save(&State{
		AccessToken:   "acc",
		RefreshToken:  "ref",
		IssuedAt:      now.Add(-2 * time.Hour),
		AccessExpiry:  now.Add(-time.Hour),
		RefreshExpiry: now.Add(24 * time.Hour),
		RememberMe:    false,
	})

	require.NoError(t, m.Start(t.Context()))

	// logged out locally, no network call made
	waitEnd(t, ends, EndExpired)
	_, ok := storage.Load()
	assert.False(t, ok)
	assert.Equal(t, 0, stub.refreshCount())
}

func TestColdStartRefreshesRememberedSession(t *testing.T) {
	stub := &stubAPI{refreshRes: tokenPair("acc2", 60, 3600)}
	m, storage, _ := newTestManager(t, stub, testConfig(0, 0))

	now := time.Now()
	storage.Save(&State{
		AccessToken:   "acc1",
		RefreshToken:  "ref1",
		IssuedAt:      now.Add(-2 * time.Hour),
		AccessExpiry:  now.Add(-time.Hour),
		RefreshExpiry: now.Add(24 * time.Hour),
		RememberMe:    true,
	})

	require.NoError(t, m.Start(t.Context()))

	assert.Equal(t, 1, stub.refreshCount())
	state, ok := storage.Load()
	require.True(t, ok)
	assert.Equal(t, "acc2", state.AccessToken)
	assert.True(t, state.RememberMe)
	assert.False(t, m.RefreshInProgress())
}

func TestColdStartRefreshTokenAlsoExpired(t *testing.T) {
	stub := &stubAPI{}
	m, storage, ends := newTestManager(t, stub, testConfig(0, 0))

	now := time.Now()
	storage.Save(&State{
		AccessToken:   "acc",
		RefreshToken:  "ref",
		IssuedAt:      now.Add(-48 * time.Hour),
		AccessExpiry:  now.Add(-47 * time.Hour),
		RefreshExpiry: now.Add(-time.Hour),
		RememberMe:    true,
	})

	require.NoError(t, m.Start(t.Context()))

	waitEnd(t, ends, EndExpired)
	_, ok := storage.Load()
	assert.False(t, ok)
	assert.Equal(t, 0, stub.refreshCount())
}

func TestLogoutPropagatesToPeers(t *testing.T) {
	hub := NewHub()
	cfg := testConfig(0, 0)

	storage1 := NewMemoryStorage()
	storage2 := NewMemoryStorage()
	ends2 := make(chan EndReason, 1)

	m1 := NewManager(&stubAPI{}, storage1, hub.Endpoint(), testLogger(), cfg, nil)
	m2 := NewManager(&stubAPI{}, storage2, hub.Endpoint(), testLogger(), cfg,
		func(r EndReason) { ends2 <- r })
	t.Cleanup(m1.Close)
	t.Cleanup(m2.Close)

	pair := tokenPair("acc", 3600, 86400)
	m1.SetSession(pair, false)
	m2.SetSession(pair, false)
	require.NoError(t, m2.Start(t.Context()))

	require.NoError(t, m1.Logout(t.Context(), "CurrentBrowser"))

	waitEnd(t, ends2, EndPeerLogout)
	_, ok := storage2.Load()
	assert.False(t, ok)
}

func TestCloseReleasesTimers(t *testing.T) {
	stub := &stubAPI{}
	m, storage, ends := newTestManager(t, stub, testConfig(0.05, 0.9))

	m.SetSession(tokenPair("acc", 1, 3600), false)
	m.Close()

	assertNoEnd(t, ends, 500*time.Millisecond)
	assert.Equal(t, 0, stub.refreshCount())

	// state survives Close, only the timers die
	_, ok := storage.Load()
	assert.True(t, ok)
}
