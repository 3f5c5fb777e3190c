package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/dbx"
	"github.com/akarpov87/schoolauth/internal/server/models"
)

const tokenColumns = `id, user_id, token, jwt_id, family_id, parent_token_id, generated_by,
	ip_address, user_agent, device_name, is_used, used_date, is_revoked, revoked_date,
	created_date, expiry_date`

// PostgresRepository implements Repository over dbx.DBTX, so it works with
// both *sql.DB and *sql.Tx.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository binds a repository to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND NOT is_revoked AND expiry_date > $2
		ORDER BY created_date DESC`
	return r.queryMany(ctx, query, userID, now)
}

func (r *PostgresRepository) GetNonRevokedByUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND NOT is_revoked`
	return r.queryMany(ctx, query, userID)
}

func (r *PostgresRepository) GetNonRevokedByFamily(ctx context.Context, familyID string) ([]*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens
		WHERE family_id = $1 AND NOT is_revoked`
	return r.queryMany(ctx, query, familyID)
}

func (r *PostgresRepository) GetByIDAndUser(ctx context.Context, id, userID string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE id = $1 AND user_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresRepository) Insert(ctx context.Context, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Token, t.JwtID, t.FamilyID, nullStr(t.ParentTokenID), string(t.GeneratedBy),
		t.IPAddress, t.UserAgent, t.DeviceName, t.IsUsed, nullTime(t.UsedDate), t.IsRevoked, nullTime(t.RevokedDate),
		t.CreatedDate, t.ExpiryDate)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, t *models.RefreshToken) error {
	query := `
		UPDATE refresh_tokens
		SET is_used = $2, used_date = $3, is_revoked = $4, revoked_date = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.IsUsed, nullTime(t.UsedDate), t.IsRevoked, nullTime(t.RevokedDate))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string, usedDate time.Time) (bool, error) {
	// the NOT is_used guard decides the winner of two racing rotations
	query := `
		UPDATE refresh_tokens
		SET is_used = TRUE, used_date = $2
		WHERE id = $1 AND NOT is_used
	`
	res, err := r.db.ExecContext(ctx, query, id, usedDate)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected == 1, nil
}

func (r *PostgresRepository) UpdateAll(ctx context.Context, tokens []*models.RefreshToken) error {
	for _, t := range tokens {
		if err := r.Update(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.RefreshToken, error) {
	t, err := scanToken(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return t, nil
}

func scanToken(scan func(dest ...any) error) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var (
		parent      sql.NullString
		generatedBy string
		usedDate    sql.NullTime
		revokedDate sql.NullTime
	)
	err := scan(
		&t.ID, &t.UserID, &t.Token, &t.JwtID, &t.FamilyID, &parent, &generatedBy,
		&t.IPAddress, &t.UserAgent, &t.DeviceName, &t.IsUsed, &usedDate, &t.IsRevoked, &revokedDate,
		&t.CreatedDate, &t.ExpiryDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.ParentTokenID = parent.String
	t.GeneratedBy = models.GeneratedBy(generatedBy)
	if usedDate.Valid {
		t.UsedDate = &usedDate.Time
	}
	if revokedDate.Valid {
		t.RevokedDate = &revokedDate.Time
	}
	return t, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
