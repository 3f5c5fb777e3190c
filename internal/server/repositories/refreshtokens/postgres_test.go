package refreshtokens

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var tokenCols = []string{
	"id", "user_id", "token", "jwt_id", "family_id", "parent_token_id", "generated_by",
	"ip_address", "user_agent", "device_name", "is_used", "used_date", "is_revoked", "revoked_date",
	"created_date", "expiry_date",
}

func addTokenRow(rows *sqlmock.Rows, t *models.RefreshToken) *sqlmock.Rows {
	var parent any
	if t.ParentTokenID != "" {
		parent = t.ParentTokenID
	}
	var used, revoked any
	if t.UsedDate != nil {
		used = *t.UsedDate
	}
	if t.RevokedDate != nil {
		revoked = *t.RevokedDate
	}
	return rows.AddRow(
		t.ID, t.UserID, t.Token, t.JwtID, t.FamilyID, parent, string(t.GeneratedBy),
		t.IPAddress, t.UserAgent, t.DeviceName, t.IsUsed, used, t.IsRevoked, revoked,
		t.CreatedDate, t.ExpiryDate)
}

func sampleToken() *models.RefreshToken {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &models.RefreshToken{
		ID:          "rt-1",
		UserID:      "u1",
		Token:       "opaque-value",
		JwtID:       "jti-1",
		FamilyID:    "fam-1",
		GeneratedBy: models.GeneratedByPassword,
		IPAddress:   "10.0.0.1",
		UserAgent:   "Mozilla/5.0",
		DeviceName:  "Chrome Browser",
		CreatedDate: now,
		ExpiryDate:  now.Add(7 * 24 * time.Hour),
	}
}

func TestGetByToken_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	want := sampleToken()
	q := `(?s)SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1`
	mock.ExpectQuery(q).
		WithArgs("opaque-value").
		WillReturnRows(addTokenRow(sqlmock.NewRows(tokenCols), want))

	got, err := repo.GetByToken(t.Context(), "opaque-value")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.FamilyID, got.FamilyID)
	assert.Equal(t, models.GeneratedByPassword, got.GeneratedBy)
	assert.Empty(t, got.ParentTokenID)
	assert.Nil(t, got.UsedDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByToken_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1`
	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByToken(t.Context(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByIDAndUser_WrongUserIsNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`
	mock.ExpectQuery(q).WithArgs("rt-1", "intruder").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByIDAndUser(t.Context(), "rt-1", "intruder")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	tok := sampleToken()
	q := `(?s)INSERT\s+INTO\s+refresh_tokens\b`
	mock.ExpectExec(q).
		WithArgs(tok.ID, tok.UserID, tok.Token, tok.JwtID, tok.FamilyID, sqlmock.AnyArg(), string(tok.GeneratedBy),
			tok.IPAddress, tok.UserAgent, tok.DeviceName, tok.IsUsed, sqlmock.AnyArg(), tok.IsRevoked, sqlmock.AnyArg(),
			tok.CreatedDate, tok.ExpiryDate).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(t.Context(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_FlipsTerminalFlags(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	tok := sampleToken()
	used := tok.CreatedDate.Add(time.Hour)
	tok.IsUsed = true
	tok.UsedDate = &used

	q := `(?s)UPDATE\s+refresh_tokens\s+SET\s+is_used\s*=\s*\$2`
	mock.ExpectExec(q).
		WithArgs(tok.ID, true, sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(t.Context(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsed_WinnerAndLoser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	usedAt := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	q := `(?s)UPDATE\s+refresh_tokens\s+SET\s+is_used\s*=\s*TRUE.*WHERE\s+id\s*=\s*\$1\s+AND\s+NOT\s+is_used`

	// first rotation flips the row
	mock.ExpectExec(q).WithArgs("rt-1", usedAt).WillReturnResult(sqlmock.NewResult(0, 1))
	used, err := repo.MarkUsed(t.Context(), "rt-1", usedAt)
	require.NoError(t, err)
	assert.True(t, used)

	// second rotation of the same row affects nothing and must report so
	mock.ExpectExec(q).WithArgs("rt-1", usedAt).WillReturnResult(sqlmock.NewResult(0, 0))
	used, err = repo.MarkUsed(t.Context(), "rt-1", usedAt)
	require.NoError(t, err)
	assert.False(t, used)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNonRevokedByFamily(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	t1 := sampleToken()
	t2 := sampleToken()
	t2.ID = "rt-2"
	t2.Token = "opaque-value-2"
	t2.ParentTokenID = "rt-1"
	t2.GeneratedBy = models.GeneratedByRotation

	rows := sqlmock.NewRows(tokenCols)
	addTokenRow(rows, t1)
	addTokenRow(rows, t2)

	q := `(?s)SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+family_id\s*=\s*\$1\s+AND\s+NOT\s+is_revoked`
	mock.ExpectQuery(q).WithArgs("fam-1").WillReturnRows(rows)

	got, err := repo.GetNonRevokedByFamily(t.Context(), "fam-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rt-1", got[1].ParentTokenID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryMany_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+.*FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+NOT\s+is_revoked`
	mock.ExpectQuery(q).WithArgs("u1").WillReturnError(errors.New("db down"))

	_, err := repo.GetNonRevokedByUser(t.Context(), "u1")
	assert.ErrorContains(t, err, "db down")
}
