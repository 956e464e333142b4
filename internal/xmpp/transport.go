package xmpp

// Query describes one archive page request. Exactly one of the cursor and
// time-window filters is set by the caller; the zero value of a field means
// the filter is absent.
type Query struct {
	ID           string // correlation id, echoed in the response
	With         string // peer bare JID filter, "" = whole archive
	BeforeCursor string // page strictly older than this cursor
	AfterCursor  string // page strictly newer than this cursor
	StartMS      int64  // inclusive lower time bound (unix ms), 0 = none
	EndMS        int64  // inclusive upper time bound (unix ms), 0 = none
	Max          int    // page size cap
	Recipient    string // non-empty routes the query to a room archive
}

// Archiving preference defaults understood by the server.
const (
	PrefAlways = "always"
	PrefNever  = "never"
	PrefRoster = "roster"
)

// Prefs is the server-side archiving preference record.
type Prefs struct {
	Default string
}

// Transport sends archive requests over the messaging connection. All sends
// are fire-and-forget; responses come back through the Sink registered on
// the inbound pipeline.
type Transport interface {
	// Send submits an archive query for the given account.
	Send(account string, q *Query) error
	// SendPrefsGet requests the current archiving preferences.
	SendPrefsGet(account, queryID string) error
	// SendPrefsSet submits new archiving preferences.
	SendPrefsSet(account, queryID string, p Prefs) error
	// SupportsArchive asks the server whether the account's archive
	// feature is available. Blocking; errors mean "treat as unsupported".
	SupportsArchive(account string) (bool, error)
	// Authenticated reports whether the account's connection is usable.
	Authenticated(account string) bool
}

// Sink receives asynchronous archive responses from the inbound pipeline.
// The sync core never polls the transport; it only reacts to these calls.
type Sink interface {
	// OnResponse delivers the page collected for a query along with the
	// server's completion flag (true = archive exhausted in the queried
	// direction).
	OnResponse(account, queryID string, page []Forwarded, complete bool)
	// OnPrefsResult delivers a preferences read or write acknowledgement.
	OnPrefsResult(account, queryID string, p Prefs)
	// OnQueryFailed reports that the server returned an error for a query.
	OnQueryFailed(account, queryID string)
}

// SinkRegistrar is implemented by transports that deliver inbound
// archive traffic. The daemon registers the query client on startup.
type SinkRegistrar interface {
	RegisterSink(Sink)
}

// Disconnected is a Transport with no connection behind it. Every send
// fails closed and Authenticated is always false, which makes the query
// client short-circuit to "no result". It is the default transport until a
// real connection adapter is injected.
type Disconnected struct{}

func (Disconnected) Send(string, *Query) error                { return errNotConnected }
func (Disconnected) SendPrefsGet(string, string) error        { return errNotConnected }
func (Disconnected) SendPrefsSet(string, string, Prefs) error { return errNotConnected }
func (Disconnected) SupportsArchive(string) (bool, error)     { return false, errNotConnected }
func (Disconnected) Authenticated(string) bool                { return false }

type notConnectedError struct{}

func (notConnectedError) Error() string { return "transport not connected" }

var errNotConnected = notConnectedError{}
