package users

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

const userColumns = `id, username, email, first_name, last_name, password_hash, roles,
	is_active, failed_login_count, lockout_until, created_date, last_login_date`

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository binds a repository to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.RolesCSV(),
		u.IsActive, u.FailedLoginCount, nullTime(u.LockoutUntil), u.CreatedDate, nullTime(u.LastLoginDate))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, u *models.User) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_login_count = $3, lockout_until = $4, last_login_date = $5, is_active = $6
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.PasswordHash, u.FailedLoginCount, nullTime(u.LockoutUntil), nullTime(u.LastLoginDate), u.IsActive)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		roles     string
		lockout   sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &roles,
		&u.IsActive, &u.FailedLoginCount, &lockout, &u.CreatedDate, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Roles = models.ParseRolesCSV(roles)
	if lockout.Valid {
		u.LockoutUntil = &lockout.Time
	}
	if lastLogin.Valid {
		u.LastLoginDate = &lastLogin.Time
	}
	return u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
