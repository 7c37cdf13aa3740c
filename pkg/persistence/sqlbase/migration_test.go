package sqlbase_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMigrationManager_AppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	migrations := map[int]string{
		3: "CREATE TABLE third (id INT)",
		1: "CREATE TABLE first (id INT)",
		2: "CREATE TABLE second (id INT)",
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	for _, version := range []int{2, 3} {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(migrations[version])).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(version).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	manager := sqlbase.NewMigrationManager(newLogger(), db, migrations)
	assert.Equal(t, 3, manager.LatestVersion())

	err = manager.RunMigrations(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationManager_UpToDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))

	manager := sqlbase.NewMigrationManager(newLogger(), db, map[int]string{1: "SELECT 1", 2: "SELECT 2"})

	require.NoError(t, manager.RunMigrations(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationManager_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	manager := sqlbase.NewMigrationManager(newLogger(), db, map[int]string{1: "CREATE TABLE broken"})

	err = manager.RunMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
	require.NoError(t, mock.ExpectationsWereMet())
}
