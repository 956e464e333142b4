package chat

import (
	"sync"

	"github.com/chatarchive/mamsync/internal/store"
)

// Conversation is the in-memory view of one account+peer relationship.
// Flag mutations write through to the store; reads are served from memory.
type Conversation struct {
	Account string
	Peer    string
	Kind    string

	mu               sync.Mutex
	db               *store.DB
	lastCursor       string
	historyFull      bool
	historyRequested bool
}

// Key returns the registry key for an account+peer pair.
func Key(account, peer string) string {
	return account + "|" + peer
}

// IsGroup reports whether the conversation is a group chat.
func (c *Conversation) IsGroup() bool {
	return c.Kind == store.KindGroup
}

// ArchiveAddress returns the address archive queries for this conversation
// are routed to: the room itself for groups, the account's own archive
// otherwise (empty recipient).
func (c *Conversation) ArchiveAddress() string {
	if c.IsGroup() {
		return c.Peer
	}
	return ""
}

// CursorOwner returns the bare JID whose by-owner archive ids identify
// entries of this conversation: the room for groups, the account otherwise.
func (c *Conversation) CursorOwner() string {
	if c.IsGroup() {
		return c.Peer
	}
	return c.Account
}

// LastCursor returns the most recent archive cursor seen.
func (c *Conversation) LastCursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCursor
}

// SetLastCursor records the most recent archive cursor seen.
func (c *Conversation) SetLastCursor(cursor string) error {
	c.mu.Lock()
	c.lastCursor = cursor
	c.mu.Unlock()
	return c.db.SetLastCursor(c.Account, c.Peer, cursor)
}

// HistoryFull reports whether the backward chain reached its origin.
func (c *Conversation) HistoryFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyFull
}

// SetHistoryFull seals the conversation's backward chain.
func (c *Conversation) SetHistoryFull() error {
	c.mu.Lock()
	c.historyFull = true
	c.mu.Unlock()
	return c.db.SetHistoryFull(c.Account, c.Peer)
}

// HistoryRequested reports whether the startup backfill was attempted.
func (c *Conversation) HistoryRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyRequested
}

// SetHistoryRequested marks the startup backfill as attempted.
func (c *Conversation) SetHistoryRequested() error {
	c.mu.Lock()
	c.historyRequested = true
	c.mu.Unlock()
	return c.db.SetHistoryRequested(c.Account, c.Peer)
}
