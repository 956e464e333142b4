package store

// Load-history settings, mirroring the per-account UI preference.
const (
	LoadHistoryNone    = "none"
	LoadHistoryCurrent = "current"
	LoadHistoryAll     = "all"
)

// Account is a synced account record.
type Account struct {
	JID             string
	ArchiveSupport  *bool // nil = unknown
	StartHistoryTS  int64
	DefaultBehavior string
	LoadHistory     string
}

// Supported reports the cached archive-support flag, false when unknown.
func (a *Account) Supported() bool {
	return a.ArchiveSupport != nil && *a.ArchiveSupport
}

// Conversation kinds.
const (
	KindChat  = "chat"
	KindGroup = "group"
)

// Conversation is the persisted per-peer record.
type Conversation struct {
	Account          string
	Peer             string
	Kind             string
	LastCursor       string
	HistoryFull      bool
	HistoryRequested bool
}

// Message is a stored message record. ArchiveCursor, PreviousCursor and
// ParentID are nil when unset; the distinction between nil and empty is
// load-bearing for chain and gap queries.
type Message struct {
	ID       string
	Account  string
	Peer     string
	Resource string

	Body       string
	MarkupBody string

	Timestamp int64
	DelayTS   int64

	Incoming    bool
	Read        bool
	Sent        bool
	Acked       bool
	Encrypted   bool
	FromArchive bool

	OriginID string
	StanzaID string
	PacketID string

	ArchiveCursor  *string
	PreviousCursor *string
	ParentID       *string
	ForwardedIDs   string // JSON array of child message ids
}

// Cursor returns the archive cursor or "" when unset.
func (m *Message) Cursor() string {
	if m.ArchiveCursor == nil {
		return ""
	}
	return *m.ArchiveCursor
}

// Previous returns the chain link or "" when unresolved.
func (m *Message) Previous() string {
	if m.PreviousCursor == nil {
		return ""
	}
	return *m.PreviousCursor
}
