// Package ingest turns raw archive entries into stored messages:
// parsing, duplicate detection, chain linking and persistence.
package ingest

import "github.com/chatarchive/mamsync/internal/store"

// Identifiers are the correlation ids a message can carry. Any of them
// may be empty; empty ids never participate in matching.
type Identifiers struct {
	OriginID      string
	StanzaID      string
	ArchiveCursor string
}

// FromStored extracts the identifiers of a persisted message.
func FromStored(m *store.Message) Identifiers {
	return Identifiers{
		OriginID:      m.OriginID,
		StanzaID:      m.StanzaID,
		ArchiveCursor: m.Cursor(),
	}
}

func idMatch(a, b string) bool {
	return a != "" && a == b
}

// SameArchiveEntry reports whether two messages with equal bodies are
// the same archive entry. Two entries match when any of these id pairs
// coincide: origin/origin, origin/stanza, stanza/origin, stanza/stanza,
// stanza/cursor or cursor/cursor. A local copy of an outgoing message
// carries only an origin id until its archived copy arrives, which is
// why the cross-kind comparisons exist.
func SameArchiveEntry(a, b Identifiers) bool {
	return idMatch(a.OriginID, b.OriginID) ||
		idMatch(a.OriginID, b.StanzaID) ||
		idMatch(a.StanzaID, b.OriginID) ||
		idMatch(a.StanzaID, b.StanzaID) ||
		idMatch(a.StanzaID, b.ArchiveCursor) ||
		idMatch(a.ArchiveCursor, b.ArchiveCursor)
}
