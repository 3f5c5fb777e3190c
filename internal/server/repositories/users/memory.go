package users

import (
	"context"
	"sync"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/server/models"
)

// MemoryRepository is an in-memory user store used by tests. Safe for
// concurrent use.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*models.User
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.User)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.byID[id]; ok {
		return copyUser(u), nil
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Username == username })
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *MemoryRepository) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[u.ID]; exists {
		return common.Conflictf("duplicate user id")
	}
	r.byID[u.ID] = copyUser(u)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return common.ErrorNotFound
	}
	r.byID[u.ID] = copyUser(u)
	return nil
}

func (r *MemoryRepository) find(match func(*models.User) bool) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}
