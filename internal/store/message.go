package store

import (
	"database/sql"
	"time"
)

const messageColumns = `id, account, peer, resource, body, markup_body, ts, delay_ts,
	incoming, read, sent, acked, encrypted, from_archive,
	origin_id, stanza_id, packet_id, archive_cursor, previous_cursor, parent_id, forwarded_ids`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var cursor, previous, parent sql.NullString
	err := row.Scan(&m.ID, &m.Account, &m.Peer, &m.Resource, &m.Body, &m.MarkupBody,
		&m.Timestamp, &m.DelayTS, &m.Incoming, &m.Read, &m.Sent, &m.Acked, &m.Encrypted,
		&m.FromArchive, &m.OriginID, &m.StanzaID, &m.PacketID, &cursor, &previous, &parent,
		&m.ForwardedIDs)
	if err != nil {
		return nil, err
	}
	if cursor.Valid {
		m.ArchiveCursor = &cursor.String
	}
	if previous.Valid {
		m.PreviousCursor = &previous.String
	}
	if parent.Valid {
		m.ParentID = &parent.String
	}
	return &m, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// InsertMessage inserts a message record. Use InsertMessageTx inside batch
// commits.
func (db *DB) InsertMessage(m *Message) error {
	return insertMessage(db.DB, m)
}

// InsertMessageTx inserts a message record within a transaction.
func InsertMessageTx(tx *sql.Tx, m *Message) error {
	return insertMessage(tx, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertMessage(e execer, m *Message) error {
	_, err := e.Exec(`
		INSERT INTO messages (id, account, peer, resource, body, markup_body, ts, delay_ts,
			incoming, read, sent, acked, encrypted, from_archive,
			origin_id, stanza_id, packet_id, archive_cursor, previous_cursor, parent_id,
			forwarded_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Account, m.Peer, m.Resource, m.Body, m.MarkupBody, m.Timestamp, m.DelayTS,
		m.Incoming, m.Read, m.Sent, m.Acked, m.Encrypted, m.FromArchive,
		m.OriginID, m.StanzaID, m.PacketID, nullable(m.ArchiveCursor), nullable(m.PreviousCursor),
		nullable(m.ParentID), m.ForwardedIDs, time.Now().UnixMilli())
	return err
}

// GetMessage returns a message by local id, or nil.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessages returns top-level messages for a conversation using keyset
// pagination by timestamp, newest first.
func (db *DB) ListMessages(account, peer string, beforeTS int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	return db.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL AND ts < ?
		ORDER BY ts DESC LIMIT ?`, account, peer, beforeTS, limit)
}

// TopLevelCount returns the number of stored top-level messages in a conversation.
func (db *DB) TopLevelCount(account, peer string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL`, account, peer).Scan(&n)
	return n, err
}

// OldestArchived returns the oldest top-level message that has an archive
// cursor, or nil. This is the backward-paging anchor for a conversation.
func (db *DB) OldestArchived(account, peer string) (*Message, error) {
	return db.firstMessage(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL AND archive_cursor IS NOT NULL
		ORDER BY ts ASC LIMIT 1`, account, peer)
}

// OldestTopLevel returns the oldest top-level message regardless of archive
// state, or nil.
func (db *DB) OldestTopLevel(account, peer string) (*Message, error) {
	return db.firstMessage(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL
		ORDER BY ts ASC LIMIT 1`, account, peer)
}

// NewestTopLevel returns the newest top-level message, or nil.
func (db *DB) NewestTopLevel(account, peer string) (*Message, error) {
	return db.firstMessage(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL
		ORDER BY ts DESC LIMIT 1`, account, peer)
}

// LastMessageTimestamp returns the newest top-level message timestamp for
// the whole account, 0 when the account has no stored messages.
func (db *DB) LastMessageTimestamp(account string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(ts) FROM messages
		WHERE account = ? AND parent_id IS NULL`, account).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// LastArchiveCursor returns the archive cursor of the account's newest
// archived top-level message, "" when none exists.
func (db *DB) LastArchiveCursor(account string) (string, error) {
	var cursor sql.NullString
	err := db.QueryRow(`
		SELECT archive_cursor FROM messages
		WHERE account = ? AND parent_id IS NULL AND archive_cursor IS NOT NULL
		ORDER BY ts DESC LIMIT 1`, account).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor.String, nil
}

// Gapped returns the conversation's top-level messages that have an archive
// cursor but no resolved chain link, newest first.
func (db *DB) Gapped(account, peer string) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL
			AND archive_cursor IS NOT NULL AND previous_cursor IS NULL
		ORDER BY ts DESC`, account, peer)
}

// AnchorBefore returns the newest archived top-level message strictly
// older than ts, or nil. Used to pick the anchor for gap healing.
func (db *DB) AnchorBefore(account, peer string, ts int64) (*Message, error) {
	return db.firstMessage(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL
			AND archive_cursor IS NOT NULL AND ts < ?
		ORDER BY ts DESC LIMIT 1`, account, peer, ts)
}

// CandidatesByBody returns top-level messages in the conversation with the
// same body text. Identifier cross-matching happens in Go on the result.
func (db *DB) CandidatesByBody(account, peer, body string) ([]*Message, error) {
	return db.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE account = ? AND peer = ? AND parent_id IS NULL AND body = ?`,
		account, peer, body)
}

// SetArchiveCursor backfills the archive cursor onto an existing record.
func (db *DB) SetArchiveCursor(id, cursor string) error {
	_, err := db.Exec(`UPDATE messages SET archive_cursor = ? WHERE id = ?`, cursor, id)
	return err
}

// SetArchiveCursorTx backfills the archive cursor within a transaction.
func SetArchiveCursorTx(tx *sql.Tx, id, cursor string) error {
	_, err := tx.Exec(`UPDATE messages SET archive_cursor = ? WHERE id = ?`, cursor, id)
	return err
}

// SetPreviousCursor sets or clears the chain link of a message.
func (db *DB) SetPreviousCursor(id string, previous *string) error {
	_, err := db.Exec(`UPDATE messages SET previous_cursor = ? WHERE id = ?`, nullable(previous), id)
	return err
}

// SetForwardedIDs attaches the child message id list to a parent record.
func (db *DB) SetForwardedIDs(id, ids string) error {
	_, err := db.Exec(`UPDATE messages SET forwarded_ids = ? WHERE id = ?`, ids, id)
	return err
}

// SetForwardedIDsTx is SetForwardedIDs inside an open transaction.
func SetForwardedIDsTx(tx *sql.Tx, id, ids string) error {
	_, err := tx.Exec(`UPDATE messages SET forwarded_ids = ? WHERE id = ?`, ids, id)
	return err
}

// MarkRead marks a single message read.
func (db *DB) MarkRead(id string) error {
	_, err := db.Exec(`UPDATE messages SET read = 1 WHERE id = ?`, id)
	return err
}

// MarkSentTx marks a locally created message as accepted by the server.
func MarkSentTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`UPDATE messages SET sent = 1 WHERE id = ?`, id)
	return err
}

// NeedsLegacyMigration reports whether no message of the account has a
// chain link that differs from the legacy sentinel, which is the one-time
// precondition for migrating the old archival bookkeeping.
func (db *DB) NeedsLegacyMigration(account, sentinel string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE account = ? AND previous_cursor IS NOT NULL AND previous_cursor != ?`,
		account, sentinel).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (db *DB) firstMessage(query string, args ...any) (*Message, error) {
	m, err := scanMessage(db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (db *DB) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
