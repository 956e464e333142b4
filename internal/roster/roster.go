// Package roster abstracts where the contact list comes from. The sync
// core only needs the set of peers worth bootstrapping; the transport
// layer decides how that set is obtained.
package roster

import "sync"

// Contact is one roster entry.
type Contact struct {
	JID   string
	Group bool
}

// Provider yields the contacts of an account.
type Provider interface {
	Contacts(account string) ([]Contact, error)
}

// Static is a Provider fed explicitly, used by the control API and in
// tests. The connection adapter replaces it when a live roster exists.
type Static struct {
	mu       sync.RWMutex
	contacts map[string][]Contact
}

func NewStatic() *Static {
	return &Static{contacts: make(map[string][]Contact)}
}

// Set replaces the account's contact list.
func (s *Static) Set(account string, contacts []Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[account] = append([]Contact(nil), contacts...)
}

func (s *Static) Contacts(account string) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Contact(nil), s.contacts[account]...), nil
}
