package orchestrator

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/archive"
	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/roster"
	"github.com/chatarchive/mamsync/internal/status"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

const (
	testAccount = "me@example.org"
	contactX    = "x@example.org"
	contactY    = "y@example.org"
)

// orchTransport answers every query through a per-test script.
type orchTransport struct {
	mu        sync.Mutex
	sink      xmpp.Sink
	supported bool
	prefs     string
	answer    func(q *xmpp.Query) ([]xmpp.Forwarded, bool)
	queries   []xmpp.Query
}

func (o *orchTransport) Send(account string, q *xmpp.Query) error {
	o.mu.Lock()
	o.queries = append(o.queries, *q)
	answer := o.answer
	o.mu.Unlock()
	go func() {
		page, complete := answer(q)
		o.sink.OnResponse(account, q.ID, page, complete)
	}()
	return nil
}

func (o *orchTransport) SendPrefsGet(account, queryID string) error {
	go o.sink.OnPrefsResult(account, queryID, xmpp.Prefs{Default: o.prefs})
	return nil
}

func (o *orchTransport) SendPrefsSet(account, queryID string, p xmpp.Prefs) error {
	o.mu.Lock()
	o.prefs = p.Default
	o.mu.Unlock()
	go o.sink.OnPrefsResult(account, queryID, p)
	return nil
}

func (o *orchTransport) SupportsArchive(string) (bool, error) { return o.supported, nil }
func (o *orchTransport) Authenticated(string) bool { return true }

func (o *orchTransport) sent() []xmpp.Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]xmpp.Query(nil), o.queries...)
}

type fixture struct {
	db      *store.DB
	bus     *bus.Bus
	tracker *status.Tracker
	roster  *roster.Static
	orch    *Orchestrator
	tr      *orchTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	registry := chat.NewRegistry(db)
	tr := &orchTransport{
		supported: true,
		prefs:     xmpp.PrefAlways,
		answer:    func(*xmpp.Query) ([]xmpp.Forwarded, bool) { return nil, true },
	}
	client := archive.NewClient(tr, time.Second, zap.NewNop())
	tr.sink = client
	parser := ingest.NewParser(nil, nil, zap.NewNop())
	saver := ingest.NewSaver(db, b, registry, zap.NewNop())
	tracker := status.NewTracker(b)
	contacts := roster.NewStatic()
	contacts.Set(testAccount, []roster.Contact{{JID: contactX}, {JID: contactY}})
	return &fixture{
		db:      db,
		bus:     b,
		tracker: tracker,
		roster:  contacts,
		orch:    New(db, client, parser, saver, registry, contacts, tracker, b, 50, 2, zap.NewNop()),
		tr:      tr,
	}
}

func fromPeer(peer, body, cursor string, stamp int64) xmpp.Forwarded {
	return xmpp.Forwarded{
		Message: xmpp.Message{
			From:       peer + "/device",
			To:         testAccount,
			Type:       "chat",
			Body:       body,
			ArchiveIDs: map[string]string{testAccount: cursor},
		},
		Stamp: stamp,
	}
}

func (f *fixture) waitSynced(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.tracker.Current(testAccount) != status.Synced {
		if time.Now().After(deadline) {
			t.Fatalf("account never reached SYNCED, phase = %s", f.tracker.Current(testAccount))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFirstRunInitializesAndBootstraps(t *testing.T) {
	f := newFixture(t)
	lastByPeer := map[string]xmpp.Forwarded{
		contactX: fromPeer(contactX, "newest from x", "cx9", 9000),
		contactY: fromPeer(contactY, "newest from y", "cy4", 4000),
	}
	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		if q.With == "" {
			// Account-wide newest entry for timestamp initialization.
			return []xmpp.Forwarded{lastByPeer[contactX]}, false
		}
		return []xmpp.Forwarded{lastByPeer[q.With]}, true
	}

	done, cancel := f.bus.Subscribe("sync.bootstrap_complete", 4)
	defer cancel()

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	acc, _ := f.db.GetAccount(testAccount)
	if acc.StartHistoryTS != 9000 {
		t.Fatalf("bootstrap timestamp = %d, want 9000", acc.StartHistoryTS)
	}
	if !acc.Supported() {
		t.Fatal("support flag not cached")
	}
	if acc.DefaultBehavior != xmpp.PrefAlways {
		t.Fatalf("default behavior = %q", acc.DefaultBehavior)
	}
	for _, peer := range []string{contactX, contactY} {
		n, _ := f.db.TopLevelCount(testAccount, peer)
		if n != 1 {
			t.Fatalf("contact %s has %d messages, want 1", peer, n)
		}
	}
	select {
	case ev := <-done:
		if ev.Payload.(BootstrapComplete).Account != testAccount {
			t.Fatalf("payload = %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no bootstrap_complete event")
	}
}

// seedResumeState stores history for contact X ending at cursor c40 and
// leaves contact Y empty.
func seedResumeState(t *testing.T, f *fixture) {
	t.Helper()
	if _, err := f.db.EnsureAccount(testAccount); err != nil {
		t.Fatalf("account: %v", err)
	}
	registry := chat.NewRegistry(f.db)
	conv, err := registry.Get(testAccount, contactX, store.KindChat)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	prev := ""
	for i := 1; i <= 40; i++ {
		cursor := cursorName(i)
		m := &store.Message{
			ID: cursor + "-id", Account: testAccount, Peer: contactX,
			Body: "old", Timestamp: int64(i * 100), Incoming: true,
			Read: true, FromArchive: true, ArchiveCursor: &cursor,
		}
		if prev != "" {
			link := prev
			m.PreviousCursor = &link
		} else {
			link := cursor
			m.PreviousCursor = &link // origin
		}
		if err := f.db.InsertMessage(m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		prev = cursor
	}
	if err := conv.SetLastCursor("c40"); err != nil {
		t.Fatalf("last cursor: %v", err)
	}
}

func cursorName(i int) string {
	return "c" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestResumeCatchUpCompleteBootstrapsOnlyMissed(t *testing.T) {
	f := newFixture(t)
	seedResumeState(t, f)

	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		if q.AfterCursor == "c40" {
			return []xmpp.Forwarded{
				fromPeer(contactX, "new 1", "c41", 4100),
				fromPeer(contactX, "new 2", "c42", 4200),
				fromPeer(contactX, "new 3", "c43", 4300),
				fromPeer(contactX, "new 4", "c44", 4400),
				fromPeer(contactX, "new 5", "c45", 4500),
			}, true
		}
		if q.Max == 1 && q.With == contactY {
			return []xmpp.Forwarded{fromPeer(contactY, "hello", "cy1", 5000)}, true
		}
		return nil, true
	}

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	n, _ := f.db.TopLevelCount(testAccount, contactX)
	if n != 45 {
		t.Fatalf("contact X has %d messages, want 45", n)
	}
	// The first caught-up entry chains to the pre-offline cursor.
	first, err := f.db.AnchorBefore(testAccount, contactX, 4101)
	if err != nil || first == nil {
		t.Fatalf("anchor: %v", err)
	}
	if first.Cursor() != "c41" || first.Previous() != "c40" {
		t.Fatalf("first new entry cursor=%q prev=%q", first.Cursor(), first.Previous())
	}
	n, _ = f.db.TopLevelCount(testAccount, contactY)
	if n != 1 {
		t.Fatalf("contact Y has %d messages, want 1", n)
	}
	// Contact X already had history, so no single-entry fetch for it.
	for _, q := range f.tr.sent() {
		if q.Max == 1 && q.With == contactX {
			t.Fatal("bootstrap fetch issued for a contact with history")
		}
	}
}

func TestResumeCatchUpIncompleteBootstrapsAll(t *testing.T) {
	f := newFixture(t)
	seedResumeState(t, f)

	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		if q.AfterCursor != "" {
			// Never signals completion: the offline backlog is bigger
			// than the per-resume budget.
			return []xmpp.Forwarded{
				fromPeer(contactX, "more "+q.AfterCursor, q.AfterCursor+"x", time.Now().UnixMilli()),
			}, false
		}
		return nil, true
	}

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	var after, single int
	for _, q := range f.tr.sent() {
		switch {
		case q.AfterCursor != "":
			after++
		case q.Max == 1 && q.With != "":
			single++
		}
	}
	if after != 2 {
		t.Fatalf("catch-up used %d pages, want the cap of 2", after)
	}
	if single != 2 {
		t.Fatalf("bootstrapped %d contacts, want both", single)
	}
}

func TestLoadHistoryNoneIssuesNoArchiveQueries(t *testing.T) {
	f := newFixture(t)
	seedResumeState(t, f)
	if err := f.db.SetLoadHistory(testAccount, store.LoadHistoryNone); err != nil {
		t.Fatalf("set load history: %v", err)
	}

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	if qs := f.tr.sent(); len(qs) != 0 {
		t.Fatalf("archive queries issued with history loading disabled: %+v", qs)
	}
	n, _ := f.db.TopLevelCount(testAccount, contactY)
	if n != 0 {
		t.Fatalf("contact Y gained %d messages, want 0", n)
	}
}

func TestMissedBootstrapSkipsRequestedContacts(t *testing.T) {
	f := newFixture(t)
	seedResumeState(t, f)

	// Contact Y's startup backfill already ran and found nothing.
	convY, err := chat.NewRegistry(f.db).Get(testAccount, contactY, store.KindChat)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if err := convY.SetHistoryRequested(); err != nil {
		t.Fatalf("mark requested: %v", err)
	}

	// Catch-up reaches the end of the archive at once, so only missed
	// contacts qualify for the bootstrap.
	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		return nil, true
	}

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	for _, q := range f.tr.sent() {
		if q.Max == 1 && q.With == contactY {
			t.Fatal("bootstrap re-requested a contact whose backfill was already attempted")
		}
	}
}

func TestUnsupportedAccountStillBootstraps(t *testing.T) {
	f := newFixture(t)
	f.tr.supported = false
	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		if q.Max == 1 && q.With != "" {
			return []xmpp.Forwarded{fromPeer(q.With, "hi", "c-"+q.With, 1000)}, true
		}
		return nil, true
	}

	f.orch.OnRosterReceived(testAccount)
	f.waitSynced(t)

	acc, _ := f.db.GetAccount(testAccount)
	if acc.ArchiveSupport == nil || *acc.ArchiveSupport {
		t.Fatalf("support flag = %v, want cached false", acc.ArchiveSupport)
	}
	for _, q := range f.tr.sent() {
		if q.AfterCursor != "" || q.With == "" {
			t.Fatalf("archive sync query issued without support: %+v", q)
		}
	}
	n, _ := f.db.TopLevelCount(testAccount, contactX)
	if n != 1 {
		t.Fatalf("contact X has %d messages, want 1", n)
	}
}

func TestRerunWhileRunningIsDropped(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	f.tr.answer = func(q *xmpp.Query) ([]xmpp.Forwarded, bool) {
		<-block
		return nil, true
	}

	go f.orch.OnRosterReceived(testAccount)
	deadline := time.Now().Add(time.Second)
	for f.tracker.Current(testAccount) == status.Idle {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The second entry must bail out instead of running concurrently.
	f.orch.OnRosterReceived(testAccount)
	close(block)
	f.waitSynced(t)
}

func TestRequestPrefsUpdate(t *testing.T) {
	f := newFixture(t)
	if _, err := f.db.EnsureAccount(testAccount); err != nil {
		t.Fatalf("account: %v", err)
	}

	events, cancel := f.bus.Subscribe("prefs.", 4)
	defer cancel()

	if !f.orch.RequestPrefsUpdate(testAccount, xmpp.PrefRoster) {
		t.Fatal("prefs update failed")
	}
	acc, _ := f.db.GetAccount(testAccount)
	if acc.DefaultBehavior != xmpp.PrefRoster {
		t.Fatalf("default behavior = %q", acc.DefaultBehavior)
	}
	select {
	case ev := <-events:
		if ev.Payload.(PrefsUpdated).Default != xmpp.PrefRoster {
			t.Fatalf("payload = %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no prefs.updated event")
	}
}
