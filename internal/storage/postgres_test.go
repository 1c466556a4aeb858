package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templatebot/pkg/logx"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockPostgres(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	st := newPostgresStore(db, logx.Nop())
	st.now = func() time.Time { return fixedNow }
	t.Cleanup(func() {
		_ = db.Close()
	})
	return st, mock
}

func templateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "text", "image_path", "button_text", "button_url", "created_at", "updated_at"})
}

func TestPostgresCreate(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	ms := fixedNow.UnixMilli()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO templates(name, text, image_path, button_text, button_url, created_at, updated_at)`)).
		WithArgs("promo", "Hello", nil, "Open", "https://example.com", ms, ms).
		WillReturnRows(templateRows().AddRow(7, "promo", "Hello", nil, "Open", "https://example.com", ms, ms))

	got, err := st.Create(context.Background(), NewTemplate{Name: "promo", Text: "Hello", ButtonText: "Open", ButtonURL: "https://example.com"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.ID)
	assert.Empty(t, got.ImagePath)
	assert.Equal(t, fixedNow, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDuplicate(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	mock.ExpectQuery(`INSERT INTO templates`).
		WillReturnError(&pq.Error{Code: pgUniqueViolation, Message: "duplicate key value"})

	_, err := st.Create(context.Background(), NewTemplate{Name: "promo"})
	require.ErrorIs(t, err, ErrDuplicateName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByNameNotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM templates WHERE name = $1`)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetByName(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateIsTransactional(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	old := fixedNow.Add(-time.Hour).UnixMilli()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM templates WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(templateRows().AddRow(3, "promo", "Hello", "images/a.jpg", nil, nil, old, old))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE templates SET text = $1, image_path = $2, button_text = $3, button_url = $4, updated_at = $5 WHERE id = $6`)).
		WithArgs("Hello", nil, "Go", "https://go.dev", fixedNow.UnixMilli(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := st.Update(context.Background(), 3, Patch{ImagePath: Ptr(""), ButtonText: Ptr("Go"), ButtonURL: Ptr("https://go.dev")})
	require.NoError(t, err)
	assert.Empty(t, got.ImagePath)
	assert.Equal(t, "Go", got.ButtonText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRejectsHalfButton(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(templateRows().AddRow(3, "promo", "Hello", nil, nil, nil, 0, 0))
	mock.ExpectRollback()

	_, err := st.Update(context.Background(), 3, Patch{ButtonText: Ptr("Go")})
	require.ErrorIs(t, err, ErrInvalidButton)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteReturnsRow(t *testing.T) {
	t.Parallel()

	st, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM templates WHERE id = $1 RETURNING`)).
		WithArgs(int64(4)).
		WillReturnRows(templateRows().AddRow(4, "old", "", "images/z.jpg", nil, nil, 0, 0))

	got, err := st.Delete(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "images/z.jpg", got.ImagePath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDollarRebind(t *testing.T) {
	t.Parallel()

	st := &sqlStore{d: dialect{dollarArgs: true}}
	assert.Equal(t, "a = $1 AND b = $2", st.q("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", (&sqlStore{}).q("a = ?"))
}
