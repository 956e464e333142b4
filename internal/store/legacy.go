package store

import "database/sql"

// LegacySentinel is the previous-cursor value assigned by the old archival
// bookkeeping scheme. A brand-new account has no message whose chain link
// differs from it, which triggers the one-time migration.
const LegacySentinel = "legacy"

// LegacySyncRecord is a per-conversation record of the old scheme: the
// archive cursor of the first entry the old synchronizer fetched.
type LegacySyncRecord struct {
	Account     string
	Peer        string
	FirstCursor string
}

// UpsertLegacySync writes a legacy sync record.
func (db *DB) UpsertLegacySync(r *LegacySyncRecord) error {
	_, err := db.Exec(`
		INSERT INTO legacy_sync (account, peer, first_cursor)
		VALUES (?, ?, ?)
		ON CONFLICT(account, peer) DO UPDATE SET first_cursor = excluded.first_cursor`,
		r.Account, r.Peer, r.FirstCursor)
	return err
}

// GetLegacySync returns the legacy sync record for a conversation, or nil.
func (db *DB) GetLegacySync(account, peer string) (*LegacySyncRecord, error) {
	var r LegacySyncRecord
	err := db.QueryRow(`
		SELECT account, peer, first_cursor FROM legacy_sync
		WHERE account = ? AND peer = ?`, account, peer).
		Scan(&r.Account, &r.Peer, &r.FirstCursor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
