package chat

import (
	"sync"

	"github.com/chatarchive/mamsync/internal/store"
)

// Registry hands out Conversation instances, loading persisted state on
// first access and keeping one shared instance per account+peer pair.
// It also tracks which conversation is currently on screen.
type Registry struct {
	db *store.DB

	mu            sync.Mutex
	conversations map[string]*Conversation
	foreground    string
}

func NewRegistry(db *store.DB) *Registry {
	return &Registry{
		db:            db,
		conversations: make(map[string]*Conversation),
	}
}

// Get returns the conversation for account+peer, creating it with the
// given kind if it has never been seen. An existing conversation keeps
// its original kind.
func (r *Registry) Get(account, peer, kind string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(account, peer)
	if c, ok := r.conversations[key]; ok {
		return c, nil
	}

	rec, err := r.db.GetConversation(account, peer)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if kind == "" {
			kind = store.KindChat
		}
		rec = &store.Conversation{Account: account, Peer: peer, Kind: kind}
		if err := r.db.UpsertConversation(rec); err != nil {
			return nil, err
		}
	}

	c := &Conversation{
		Account:          rec.Account,
		Peer:             rec.Peer,
		Kind:             rec.Kind,
		db:               r.db,
		lastCursor:       rec.LastCursor,
		historyFull:      rec.HistoryFull,
		historyRequested: rec.HistoryRequested,
	}
	r.conversations[key] = c
	return c, nil
}

// Lookup returns the cached conversation, or nil if it was never loaded.
func (r *Registry) Lookup(account, peer string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversations[Key(account, peer)]
}

// All returns every conversation persisted for the account.
func (r *Registry) All(account string) ([]*Conversation, error) {
	recs, err := r.db.ListConversations(account)
	if err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(recs))
	for _, rec := range recs {
		c, err := r.Get(rec.Account, rec.Peer, rec.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SetForeground marks the conversation currently on screen. An empty
// peer clears the foreground.
func (r *Registry) SetForeground(account, peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if peer == "" {
		r.foreground = ""
		return
	}
	r.foreground = Key(account, peer)
}

// IsForeground reports whether account+peer is the on-screen conversation.
func (r *Registry) IsForeground(account, peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.foreground != "" && r.foreground == Key(account, peer)
}
