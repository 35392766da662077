package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dbsmedya/gobackfill/internal/sqlutil"
	"github.com/dbsmedya/gobackfill/internal/store"
)

func newMock(t *testing.T, dialect sqlutil.Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, dialect), mock
}

func TestSelectMySQL(t *testing.T) {
	s, mock := newMock(t, sqlutil.MySQL)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `id_modulo` FROM `modulos` WHERE `id_bubble_modulo` = ? ORDER BY `id_modulo` ASC LIMIT 2")).
		WithArgs("B1").
		WillReturnRows(sqlmock.NewRows([]string{"id_modulo"}).
			AddRow([]byte("M-100")).
			AddRow(nil))

	rows, err := s.Select(context.Background(), "modulos", store.Query{
		Columns: []string{"id_modulo"},
		Where:   []store.Eq{{Column: "id_bubble_modulo", Value: "B1"}},
		OrderBy: "id_modulo",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M-100", rows[0]["id_modulo"])
	assert.Nil(t, rows[1]["id_modulo"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectPostgresPlaceholders(t *testing.T) {
	s, mock := newMock(t, sqlutil.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "aulas_assistidas" WHERE "id_aula" = $1 AND "id_usuario" = $2`)).
		WithArgs("A-1", "U-1").
		WillReturnRows(sqlmock.NewRows([]string{"id_aula", "id_usuario"}))

	rows, err := s.Select(context.Background(), "aulas_assistidas", store.Query{
		Where: []store.Eq{{Column: "id_aula", Value: "A-1"}, {Column: "id_usuario", Value: "U-1"}},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectNotNull(t *testing.T) {
	s, mock := newMock(t, sqlutil.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "id_modulo" FROM "modulos" WHERE "id_bubble_modulo" = $1 AND "id_modulo" IS NOT NULL ORDER BY "id_modulo" ASC LIMIT 1`)).
		WithArgs("B1").
		WillReturnRows(sqlmock.NewRows([]string{"id_modulo"}).AddRow("M-100"))

	rows, err := s.Select(context.Background(), "modulos", store.Query{
		Columns: []string{"id_modulo"},
		Where:   []store.Eq{{Column: "id_bubble_modulo", Value: "B1"}},
		NotNull: []string{"id_modulo"},
		OrderBy: "id_modulo",
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "modulos" WHERE "id_modulo" IS NOT NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"id_modulo"}))

	_, err = s.Select(context.Background(), "modulos", store.Query{NotNull: []string{"id_modulo"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectRejectsInvalidIdentifiers(t *testing.T) {
	s, mock := newMock(t, sqlutil.MySQL)

	_, err := s.Select(context.Background(), "aulas; DROP TABLE aulas", store.Query{})
	assert.IsType(t, &sqlutil.InvalidIdentifierError{}, err)

	_, err = s.Select(context.Background(), "aulas", store.Query{OrderBy: "id desc"})
	assert.IsType(t, &sqlutil.InvalidIdentifierError{}, err)

	_, err = s.Select(context.Background(), "aulas", store.Query{Where: []store.Eq{{Column: "a=b"}}})
	assert.IsType(t, &sqlutil.InvalidIdentifierError{}, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert(t *testing.T) {
	s, mock := newMock(t, sqlutil.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "aulas_assistidas" ("id_aula", "id_usuario") VALUES ($1, $2)`)).
		WithArgs("A-1", "U-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Insert(context.Background(), "aulas_assistidas", store.Record{"id_usuario": "U-1", "id_aula": "A-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertConstraintViolation(t *testing.T) {
	s, mock := newMock(t, sqlutil.MySQL)
	violation := errors.New("Error 1062: Duplicate entry")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`email`) VALUES (?)")).
		WithArgs("ana@example.com").
		WillReturnError(violation)

	err := s.Insert(context.Background(), "users", store.Record{"email": "ana@example.com"})
	assert.ErrorIs(t, err, violation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	s, mock := newMock(t, sqlutil.MySQL)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `aulas` SET `id_modulo` = ? WHERE `id` = ?")).
		WithArgs("M-100", 42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Update(context.Background(), "aulas", store.Record{"id_modulo": "M-100"}, store.Eq{Column: "id", Value: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNoRowsAffected(t *testing.T) {
	s, mock := newMock(t, sqlutil.Postgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "modulos" SET "id_curso" = $1, "nome" = $2 WHERE "id_bubble_modulo" = $3`)).
		WithArgs("C-1", "Intro", "B9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Update(context.Background(), "modulos",
		store.Record{"nome": "Intro", "id_curso": "C-1"},
		store.Eq{Column: "id_bubble_modulo", Value: "B9"})
	assert.ErrorIs(t, err, store.ErrNoRowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWithoutFields(t *testing.T) {
	s, _ := newMock(t, sqlutil.MySQL)
	_, err := s.Update(context.Background(), "aulas", store.Record{}, store.Eq{Column: "id", Value: 1})
	assert.Error(t, err)
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "backfill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE aulas (id INTEGER PRIMARY KEY, id_bubble_modulo TEXT, id_modulo TEXT)`)
	require.NoError(t, err)

	s := New(db, sqlutil.SQLite)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "aulas", store.Record{"id": 1, "id_bubble_modulo": "B1"}))
	require.NoError(t, s.Insert(ctx, "aulas", store.Record{"id": 2, "id_bubble_modulo": "B2"}))

	n, err := s.Update(ctx, "aulas", store.Record{"id_modulo": "M-100"}, store.Eq{Column: "id", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.Select(ctx, "aulas", store.Query{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M-100", rows[0]["id_modulo"])
	assert.True(t, store.IsEmpty(rows[1]["id_modulo"]))
	assert.Equal(t, "2", store.String(rows[1]["id"]))
}
