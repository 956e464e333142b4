package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (account, peer, kind, last_cursor, history_full, history_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, peer) DO UPDATE SET
			kind = excluded.kind,
			last_cursor = excluded.last_cursor,
			history_full = excluded.history_full,
			history_requested = excluded.history_requested,
			updated_at = excluded.updated_at`,
		c.Account, c.Peer, c.Kind, c.LastCursor, c.HistoryFull, c.HistoryRequested, now, now)
	return err
}

// GetConversation returns a conversation, or nil if absent.
func (db *DB) GetConversation(account, peer string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT account, peer, kind, last_cursor, history_full, history_requested
		FROM conversations WHERE account = ? AND peer = ?`, account, peer).
		Scan(&c.Account, &c.Peer, &c.Kind, &c.LastCursor, &c.HistoryFull, &c.HistoryRequested)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the account's conversations.
func (db *DB) ListConversations(account string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT account, peer, kind, last_cursor, history_full, history_requested
		FROM conversations WHERE account = ? ORDER BY peer`, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Account, &c.Peer, &c.Kind, &c.LastCursor, &c.HistoryFull, &c.HistoryRequested); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetLastCursor updates the most recent archive cursor seen for a conversation.
func (db *DB) SetLastCursor(account, peer, cursor string) error {
	_, err := db.Exec(`UPDATE conversations SET last_cursor = ?, updated_at = ? WHERE account = ? AND peer = ?`,
		cursor, time.Now().UnixMilli(), account, peer)
	return err
}

// SetHistoryFull marks the conversation's backward chain as sealed.
func (db *DB) SetHistoryFull(account, peer string) error {
	_, err := db.Exec(`UPDATE conversations SET history_full = 1, updated_at = ? WHERE account = ? AND peer = ?`,
		time.Now().UnixMilli(), account, peer)
	return err
}

// SetHistoryRequested marks that the startup backfill was attempted.
func (db *DB) SetHistoryRequested(account, peer string) error {
	_, err := db.Exec(`UPDATE conversations SET history_requested = 1, updated_at = ? WHERE account = ? AND peer = ?`,
		time.Now().UnixMilli(), account, peer)
	return err
}
