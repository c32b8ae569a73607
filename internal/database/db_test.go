package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL);`

func newTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "nested", "state.db"),
		Profile: profile,
		Name:    "state",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(testSchema))
	return db
}

func TestNew_CreatesDirectoryAndDefaultsProfile(t *testing.T) {
	db := newTestDB(t, "")

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, "state", db.Name())
	assert.True(t, filepath.IsAbs(db.Path()))

	_, err := os.Stat(filepath.Dir(db.Path()))
	assert.NoError(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t, ProfileLedger)
	assert.NoError(t, db.Migrate(testSchema))
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('b', '2')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM kv").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(nil, func(tx *sql.Tx) error { return nil }))
}

func TestSnapshotTo(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Conn().Exec("INSERT INTO kv (k, v) VALUES ('strategy', 'state')")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snap", "copy.db")
	require.NoError(t, db.SnapshotTo(context.Background(), dest))

	snap, err := New(Config{Path: dest, Name: "snapshot"})
	require.NoError(t, err)
	defer snap.Close()

	var v string
	require.NoError(t, snap.Conn().QueryRow("SELECT v FROM kv WHERE k = 'strategy'").Scan(&v))
	assert.Equal(t, "state", v)
}

func TestHealthAndStats(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	ctx := context.Background()

	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
