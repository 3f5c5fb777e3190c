package refreshtokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/server/models"
)

// MemoryRepository is an in-memory Repository used by tests and by the
// in-memory repository manager. Safe for concurrent use.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.RefreshToken
	tokens map[string]string // opaque value -> id
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.RefreshToken),
		tokens: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByToken(_ context.Context, token string) (*models.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyToken(r.byID[id]), nil
}

func (r *MemoryRepository) GetActiveByUser(_ context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	out := r.filter(func(t *models.RefreshToken) bool {
		return t.UserID == userID && !t.IsRevoked && t.ExpiryDate.After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.After(out[j].CreatedDate) })
	return out, nil
}

func (r *MemoryRepository) GetNonRevokedByUser(_ context.Context, userID string) ([]*models.RefreshToken, error) {
	return r.filter(func(t *models.RefreshToken) bool {
		return t.UserID == userID && !t.IsRevoked
	}), nil
}

func (r *MemoryRepository) GetNonRevokedByFamily(_ context.Context, familyID string) ([]*models.RefreshToken, error) {
	return r.filter(func(t *models.RefreshToken) bool {
		return t.FamilyID == familyID && !t.IsRevoked
	}), nil
}

func (r *MemoryRepository) GetByIDAndUser(_ context.Context, id, userID string) (*models.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok || t.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return copyToken(t), nil
}

func (r *MemoryRepository) Insert(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[t.Token]; exists {
		return common.Conflictf("duplicate refresh token value")
	}
	r.byID[t.ID] = copyToken(t)
	r.tokens[t.Token] = t.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID]; !ok {
		return common.ErrorNotFound
	}
	r.byID[t.ID] = copyToken(t)
	return nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, id string, usedDate time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	if t.IsUsed {
		return false, nil
	}
	t.IsUsed = true
	d := usedDate
	t.UsedDate = &d
	return true, nil
}

func (r *MemoryRepository) UpdateAll(ctx context.Context, tokens []*models.RefreshToken) error {
	for _, t := range tokens {
		if err := r.Update(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) filter(keep func(*models.RefreshToken) bool) []*models.RefreshToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.RefreshToken
	for _, t := range r.byID {
		if keep(t) {
			out = append(out, copyToken(t))
		}
	}
	return out
}

func copyToken(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	return &c
}
