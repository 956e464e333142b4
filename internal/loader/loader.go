// Package loader serves on-demand history: opening a chat, scrolling
// toward its top, and explicit full-history requests. At most one load
// runs per conversation at a time; further triggers for the same
// conversation are dropped while it is busy.
package loader

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/archive"
	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/chain"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// LoadEvent is the payload of "history.load_started" and
// "history.load_finished" events.
type LoadEvent struct {
	Account string
	Peer    string
	Saved   int
}

type Loader struct {
	db       *store.DB
	client   *archive.Client
	parser   *ingest.Parser
	saver    *ingest.Saver
	healer   *chain.Healer
	registry *chat.Registry
	bus      *bus.Bus
	pageSize int
	chatMin  int
	log      *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, healer *chain.Healer, registry *chat.Registry, b *bus.Bus, pageSize, chatMin int, log *zap.Logger) *Loader {
	return &Loader{
		db:       db,
		client:   client,
		parser:   parser,
		saver:    saver,
		healer:   healer,
		registry: registry,
		bus:      b,
		pageSize: pageSize,
		chatMin:  chatMin,
		log:      log.Named("loader"),
		inFlight: make(map[string]struct{}),
	}
}

// acquire claims the conversation for one load. It reports false when a
// load is already running for it.
func (l *Loader) acquire(account, peer string) bool {
	key := chat.Key(account, peer)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[key]; busy {
		return false
	}
	l.inFlight[key] = struct{}{}
	return true
}

func (l *Loader) release(account, peer string) {
	l.mu.Lock()
	delete(l.inFlight, chat.Key(account, peer))
	l.mu.Unlock()
}

// Loading reports whether a load is running for the conversation.
func (l *Loader) Loading(account, peer string) bool {
	key := chat.Key(account, peer)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.inFlight[key]
	return busy
}

// gate loads the account and conversation and decides whether archive
// loads are allowed for them at all.
func (l *Loader) gate(account, peer string) (*store.Account, *chat.Conversation, bool) {
	acc, err := l.db.GetAccount(account)
	if err != nil || acc == nil {
		return nil, nil, false
	}
	if !acc.Supported() || acc.LoadHistory == store.LoadHistoryNone {
		return nil, nil, false
	}
	conv, err := l.registry.Get(account, peer, "")
	if err != nil {
		return nil, nil, false
	}
	return acc, conv, true
}

// OnChatOpened tops up a conversation when the user opens it: an empty
// conversation gets its most recent page, a sparse one gets one older
// page, and any chain gaps inside it are healed.
func (l *Loader) OnChatOpened(account, peer string) {
	acc, conv, ok := l.gate(account, peer)
	if !ok {
		return
	}
	if !l.acquire(account, peer) {
		return
	}
	defer l.release(account, peer)

	count, err := l.db.TopLevelCount(account, peer)
	if err != nil {
		l.log.Error("count messages", zap.Error(err))
		return
	}

	l.publish("history.load_started", account, peer, 0)
	saved := 0
	if count == 0 {
		saved = l.bootstrapLast(acc, conv)
		count, _ = l.db.TopLevelCount(account, peer)
	}
	if count > 0 && count < l.chatMin && !conv.HistoryFull() {
		saved += l.loadPageBefore(acc, conv)
	}
	if err := l.healer.HealGaps(acc, conv); err != nil {
		l.log.Error("heal gaps", zap.Error(err))
	}
	l.publish("history.load_finished", account, peer, saved)
}

// OnScrolledNearTop fetches one page older than the oldest archived
// message when the user approaches the top of the timeline.
func (l *Loader) OnScrolledNearTop(account, peer string) {
	acc, conv, ok := l.gate(account, peer)
	if !ok || conv.HistoryFull() {
		return
	}
	if !l.acquire(account, peer) {
		return
	}
	defer l.release(account, peer)

	l.publish("history.load_started", account, peer, 0)
	saved := l.loadPageBefore(acc, conv)
	l.publish("history.load_finished", account, peer, saved)
}

// LoadFullHistory pages backward until the conversation's chain reaches
// its origin or the server stops answering.
func (l *Loader) LoadFullHistory(account, peer string) {
	acc, conv, ok := l.gate(account, peer)
	if !ok || conv.HistoryFull() {
		return
	}
	if !l.acquire(account, peer) {
		return
	}
	defer l.release(account, peer)

	l.publish("history.load_started", account, peer, 0)
	total := 0
	for !conv.HistoryFull() {
		before, err := l.db.OldestArchived(account, peer)
		if err != nil {
			l.log.Error("oldest archived", zap.Error(err))
			break
		}
		if before == nil {
			total += l.bootstrapLast(acc, conv)
			// No archived entry even after the bootstrap means there
			// is no cursor to walk back from.
			if again, _ := l.db.OldestArchived(account, peer); again == nil {
				break
			}
			continue
		}
		if before.Previous() == before.Cursor() && before.Cursor() != "" {
			conv.SetHistoryFull()
			break
		}
		saved, progressed := l.pageBefore(acc, conv, before)
		total += saved
		if !progressed {
			break
		}
	}
	l.publish("history.load_finished", account, peer, total)
}

// bootstrapLast fetches the single newest archive entry to give the
// conversation something to show, and records it as the resume point.
func (l *Loader) bootstrapLast(acc *store.Account, conv *chat.Conversation) int {
	res := l.client.MostRecentPage(acc.JID, conv.Peer, conv.ArchiveAddress(), 1)
	if res == nil {
		return 0
	}
	saved, err := l.saver.SaveBatch(conv, l.parser.ParseBatch(acc, conv, res.Page, ""))
	if err != nil {
		l.log.Error("save page", zap.Error(err))
		return 0
	}
	if res.Complete {
		l.sealIfOriginReached(conv)
	}
	l.updateLastCursor(conv, saved.LastCursor)
	return saved.Saved
}

// loadPageBefore fetches one page older than the oldest archived
// message and links it into the chain.
func (l *Loader) loadPageBefore(acc *store.Account, conv *chat.Conversation) int {
	before, err := l.db.OldestArchived(acc.JID, conv.Peer)
	if err != nil {
		l.log.Error("oldest archived", zap.Error(err))
		return 0
	}
	if before == nil {
		return l.bootstrapLast(acc, conv)
	}
	saved, _ := l.pageBefore(acc, conv, before)
	return saved
}

// pageBefore fetches the page right before anchor. It reports the rows
// written and whether the walk made progress.
func (l *Loader) pageBefore(acc *store.Account, conv *chat.Conversation, anchor *store.Message) (int, bool) {
	res := l.client.PageBefore(acc.JID, conv.Peer, conv.ArchiveAddress(), anchor.Cursor(), l.pageSize)
	if res == nil {
		return 0, false
	}

	if len(res.Page) == 0 {
		if res.Complete {
			// Nothing older exists: the anchor is the origin.
			l.sealAt(conv, anchor)
		}
		return 0, false
	}

	saved, err := l.saver.SaveBatch(conv, l.parser.ParseBatch(acc, conv, res.Page, ""))
	if err != nil {
		l.log.Error("save page", zap.Error(err))
		return 0, false
	}
	// Link the anchor to the newest page entry older than itself.
	link := newestCursorBefore(res.Page, conv.CursorOwner(), anchor.Timestamp)
	if anchor.Previous() == "" && link != "" && link != anchor.Cursor() {
		if err := l.db.SetPreviousCursor(anchor.ID, &link); err != nil {
			l.log.Error("link anchor", zap.Error(err))
		}
	}
	if res.Complete {
		l.sealIfOriginReached(conv)
	}
	if saved.Saved == 0 {
		// Every entry deduplicated. The walk only moved if a cursor
		// graft changed which message anchors the next page; a server
		// that repeats the same page forever stops it here.
		again, err := l.db.OldestArchived(conv.Account, conv.Peer)
		if err != nil || again == nil || again.ID == anchor.ID {
			return 0, false
		}
	}
	return saved.Saved, true
}

// newestCursorBefore returns the owner-assigned cursor of the newest
// page entry strictly older than the given timestamp, or "".
func newestCursorBefore(page []xmpp.Forwarded, owner string, beforeTS int64) string {
	cursor := ""
	var newest int64 = -1
	for i := range page {
		c := page[i].Message.ArchiveCursorBy(owner)
		if c != "" && page[i].Stamp < beforeTS && page[i].Stamp > newest {
			newest = page[i].Stamp
			cursor = c
		}
	}
	return cursor
}

// sealIfOriginReached marks the oldest archived message as the origin
// of history by pointing its chain link at itself.
func (l *Loader) sealIfOriginReached(conv *chat.Conversation) {
	oldest, err := l.db.OldestArchived(conv.Account, conv.Peer)
	if err != nil || oldest == nil {
		return
	}
	l.sealAt(conv, oldest)
}

func (l *Loader) sealAt(conv *chat.Conversation, origin *store.Message) {
	if c := origin.Cursor(); c != "" && origin.Previous() != c {
		link := c
		if err := l.db.SetPreviousCursor(origin.ID, &link); err != nil {
			l.log.Error("seal chain", zap.Error(err))
			return
		}
	}
	if err := conv.SetHistoryFull(); err != nil {
		l.log.Error("mark history full", zap.Error(err))
	}
	l.log.Info("history complete",
		zap.String("account", conv.Account),
		zap.String("peer", conv.Peer))
}

// updateLastCursor advances the conversation's resume point.
func (l *Loader) updateLastCursor(conv *chat.Conversation, cursor string) {
	if cursor == "" || cursor == conv.LastCursor() {
		return
	}
	if err := conv.SetLastCursor(cursor); err != nil {
		l.log.Error("update last cursor", zap.Error(err))
	}
}

func (l *Loader) publish(kind, account, peer string, saved int) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   LoadEvent{Account: account, Peer: peer, Saved: saved},
	})
}
