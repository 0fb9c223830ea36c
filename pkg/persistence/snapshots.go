package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSnapshotNotFound is returned when a requested session snapshot does
// not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRecord is one stored session snapshot, keyed by session id. Data
// is the raw `pkg/snapshot`-marshaled envelope; this package stores it
// opaquely and never parses it.
type SnapshotRecord struct {
	SessionID  string
	Turn       int
	CapturedAt int64
	Data       []byte
}

// SaveSnapshot upserts the snapshot for sessionID, overwriting any
// previously stored snapshot for the same session.
func SaveSnapshot(db *sql.DB, rec SnapshotRecord) error {
	_, err := db.Exec(`
		INSERT INTO session_snapshots (session_id, turn, captured_at, snapshot_json, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			turn = excluded.turn,
			captured_at = excluded.captured_at,
			snapshot_json = excluded.snapshot_json,
			updated_at = CURRENT_TIMESTAMP
	`, rec.SessionID, rec.Turn, rec.CapturedAt, string(rec.Data))
	if err != nil {
		return fmt.Errorf("failed to save snapshot for session %q: %w", rec.SessionID, err)
	}
	return nil
}

// LoadSnapshot retrieves the most recently saved snapshot for sessionID.
func LoadSnapshot(db *sql.DB, sessionID string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var data string
	err := db.QueryRow(`
		SELECT session_id, turn, captured_at, snapshot_json
		FROM session_snapshots WHERE session_id = ?
	`, sessionID).Scan(&rec.SessionID, &rec.Turn, &rec.CapturedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, ErrSnapshotNotFound
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("failed to load snapshot for session %q: %w", sessionID, err)
	}
	rec.Data = []byte(data)
	return rec, nil
}

// DeleteSnapshot removes the stored snapshot for sessionID, if any.
func DeleteSnapshot(db *sql.DB, sessionID string) error {
	if _, err := db.Exec(`DELETE FROM session_snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot for session %q: %w", sessionID, err)
	}
	return nil
}

// ListSessionIDs returns every session id with a stored snapshot, ordered
// by most recently updated first. updated_at has one-second resolution;
// saves within the same second are ordered most recently inserted first.
func ListSessionIDs(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT session_id FROM session_snapshots ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return ids, nil
}
