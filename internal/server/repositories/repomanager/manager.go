// Package repomanager vends repository implementations bound to a DBTX and
// owns schema migrations. Services hold a manager plus a *sql.DB and bind
// repositories either to the DB directly or to a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/akarpov87/schoolauth/internal/dbx"
	"github.com/akarpov87/schoolauth/internal/server/repositories/refreshtokens"
	"github.com/akarpov87/schoolauth/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to the given DBTX.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
