package store

import (
	"database/sql"
	"time"
)

// UpsertAccount inserts or updates an account record.
func (db *DB) UpsertAccount(a *Account) error {
	now := time.Now().UnixMilli()
	var support sql.NullBool
	if a.ArchiveSupport != nil {
		support = sql.NullBool{Bool: *a.ArchiveSupport, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO accounts (jid, archive_support, start_history_ts, default_behavior, load_history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			archive_support = excluded.archive_support,
			start_history_ts = excluded.start_history_ts,
			default_behavior = excluded.default_behavior,
			load_history = excluded.load_history,
			updated_at = excluded.updated_at`,
		a.JID, support, a.StartHistoryTS, a.DefaultBehavior, a.LoadHistory, now)
	return err
}

// GetAccount returns an account by JID, or nil if absent.
func (db *DB) GetAccount(jid string) (*Account, error) {
	var a Account
	var support sql.NullBool
	err := db.QueryRow(`
		SELECT jid, archive_support, start_history_ts, default_behavior, load_history
		FROM accounts WHERE jid = ?`, jid).
		Scan(&a.JID, &support, &a.StartHistoryTS, &a.DefaultBehavior, &a.LoadHistory)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if support.Valid {
		v := support.Bool
		a.ArchiveSupport = &v
	}
	return &a, nil
}

// EnsureAccount creates an account row with defaults if it does not exist
// and returns the current record.
func (db *DB) EnsureAccount(jid string) (*Account, error) {
	a, err := db.GetAccount(jid)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	a = &Account{JID: jid, LoadHistory: LoadHistoryAll}
	if err := db.UpsertAccount(a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetArchiveSupport persists the cached support-detection result.
func (db *DB) SetArchiveSupport(jid string, supported bool) error {
	_, err := db.Exec(`UPDATE accounts SET archive_support = ?, updated_at = ? WHERE jid = ?`,
		supported, time.Now().UnixMilli(), jid)
	return err
}

// SetStartHistoryTS persists the bootstrap timestamp.
func (db *DB) SetStartHistoryTS(jid string, ts int64) error {
	_, err := db.Exec(`UPDATE accounts SET start_history_ts = ?, updated_at = ? WHERE jid = ?`,
		ts, time.Now().UnixMilli(), jid)
	return err
}

// SetDefaultBehavior persists the server-side archiving preference default.
func (db *DB) SetDefaultBehavior(jid, behavior string) error {
	_, err := db.Exec(`UPDATE accounts SET default_behavior = ?, updated_at = ? WHERE jid = ?`,
		behavior, time.Now().UnixMilli(), jid)
	return err
}

// SetLoadHistory persists the per-account history loading setting.
func (db *DB) SetLoadHistory(jid, setting string) error {
	_, err := db.Exec(`UPDATE accounts SET load_history = ?, updated_at = ? WHERE jid = ?`,
		setting, time.Now().UnixMilli(), jid)
	return err
}
