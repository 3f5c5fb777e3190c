package session

import (
	"sync"
	"time"

	"github.com/akarpov87/schoolauth/internal/client/api"
)

// State is everything the client persists about the current session.
type State struct {
	AccessToken   string
	RefreshToken  string
	User          api.User
	IssuedAt      time.Time
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	RememberMe    bool
}

// Storage persists session state between application runs. Implementations
// must be safe for concurrent use.
type Storage interface {
	Load() (*State, bool)
	Save(*State)
	Clear()
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load() (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, false
	}
	c := *s.state
	return &c, true
}

func (s *MemoryStorage) Save(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *state
	s.state = &c
}

func (s *MemoryStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}
