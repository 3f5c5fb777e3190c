// Package refreshtokens persists refresh-token records with their lineage
// metadata. Rows are append-mostly and never deleted; redeemed and revoked
// tokens stay behind as an audit trail.
package refreshtokens

import (
	"context"
	"time"

	"github.com/akarpov87/schoolauth/internal/server/models"
)

// Repository is the narrow persistence contract the rotation engine consumes.
// Implementations bound to a dbx.DBTX join whatever transaction the caller is
// running, so "mark used + insert successor" can commit atomically.
type Repository interface {
	// GetByToken looks a token up by its opaque value.
	// Returns common.ErrorNotFound when absent.
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// GetActiveByUser returns the user's unrevoked, unexpired tokens,
	// newest first.
	GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)

	// GetNonRevokedByUser returns every token of the user that has not been
	// revoked, regardless of use or expiry.
	GetNonRevokedByUser(ctx context.Context, userID string) ([]*models.RefreshToken, error)

	// GetNonRevokedByFamily returns every non-revoked token in a lineage.
	GetNonRevokedByFamily(ctx context.Context, familyID string) ([]*models.RefreshToken, error)

	// GetByIDAndUser fetches a token only if it belongs to the given user.
	// Returns common.ErrorNotFound otherwise, so a guessed id cannot reach
	// another user's session.
	GetByIDAndUser(ctx context.Context, id, userID string) (*models.RefreshToken, error)

	Insert(ctx context.Context, token *models.RefreshToken) error
	Update(ctx context.Context, token *models.RefreshToken) error
	UpdateAll(ctx context.Context, tokens []*models.RefreshToken) error

	// MarkUsed flips is_used exactly once. It reports false when the token
	// was already used, so of two racing rotations exactly one wins and the
	// loser is forced onto the reuse path.
	MarkUsed(ctx context.Context, id string, usedDate time.Time) (bool, error)
}
