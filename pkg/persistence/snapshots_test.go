package persistence

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, initializeSchemaWithMigrations(db))
	return db
}

func TestSaveAndLoadSnapshotRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	rec := SnapshotRecord{SessionID: "abc", Turn: 3, CapturedAt: 1700000000, Data: []byte(`{"schema_version":1}`)}
	require.NoError(t, SaveSnapshot(db, rec))

	loaded, err := LoadSnapshot(db, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestSaveSnapshotOverwritesPreviousForSameSession(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, SaveSnapshot(db, SnapshotRecord{SessionID: "abc", Turn: 1, CapturedAt: 1, Data: []byte("first")}))
	require.NoError(t, SaveSnapshot(db, SnapshotRecord{SessionID: "abc", Turn: 2, CapturedAt: 2, Data: []byte("second")}))

	loaded, err := LoadSnapshot(db, "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Turn)
	assert.Equal(t, []byte("second"), loaded.Data)
}

func TestLoadSnapshotReturnsNotFoundForUnknownSession(t *testing.T) {
	db := setupTestDB(t)
	_, err := LoadSnapshot(db, "nope")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestDeleteSnapshotRemovesRecord(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, SaveSnapshot(db, SnapshotRecord{SessionID: "abc", Turn: 1, CapturedAt: 1, Data: []byte("x")}))
	require.NoError(t, DeleteSnapshot(db, "abc"))

	_, err := LoadSnapshot(db, "abc")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestListSessionIDsOrdersMostRecentlyUpdatedFirst(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, SaveSnapshot(db, SnapshotRecord{SessionID: "first", Turn: 1, CapturedAt: 1, Data: []byte("x")}))
	require.NoError(t, SaveSnapshot(db, SnapshotRecord{SessionID: "second", Turn: 1, CapturedAt: 1, Data: []byte("x")}))

	ids, err := ListSessionIDs(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, ids)
}

func TestSchemaVersionStartsAtZeroThenMigrates(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, initializeSchemaWithMigrations(db))
	version, err = GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}
