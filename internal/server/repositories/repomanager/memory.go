package repomanager

import (
	"context"
	"database/sql"

	"github.com/akarpov87/schoolauth/internal/dbx"
	"github.com/akarpov87/schoolauth/internal/server/repositories/refreshtokens"
	"github.com/akarpov87/schoolauth/internal/server/repositories/users"
)

// MemoryRepositoryManager vends shared in-memory repositories. It ignores the
// DBTX argument; in-memory mutations are applied immediately, so tests that
// exercise the transactional path pair it with a sqlmock DB.
type MemoryRepositoryManager struct {
	users  *users.MemoryRepository
	tokens *refreshtokens.MemoryRepository
}

// NewMemoryRepositoryManager constructs a manager over fresh empty stores.
func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:  users.NewMemoryRepository(),
		tokens: refreshtokens.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.users }

func (m *MemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }
