// Package orchestrator drives per-account archive synchronization:
// support detection, first-run initialization, offline catch-up, bulk
// last-message bootstrap over the roster, and the one-time migration of
// legacy archival bookkeeping.
package orchestrator

import (
	"sync"
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

// BootstrapComplete is the payload of "sync.bootstrap_complete".
type BootstrapComplete struct {
	Account string
}

// PrefsUpdated is the payload of "prefs.updated".
type PrefsUpdated struct {
	Account string
	Default string
}

type Orchestrator struct {
	db       *store.DB
	client   *archive.Client
	parser   *ingest.Parser
	saver    *ingest.Saver
	registry *chat.Registry
	roster   roster.Provider
	tracker  *status.Tracker
	bus      *bus.Bus
	pageSize int
	resume   int // catch-up page cap per resume
	log      *zap.Logger

	mu      sync.Mutex
	cursors map[string]*rosterCursor
}

func New(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, registry *chat.Registry, rosterProvider roster.Provider, tracker *status.Tracker, b *bus.Bus, pageSize, resumePageCap int, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		client:   client,
		parser:   parser,
		saver:    saver,
		registry: registry,
		roster:   rosterProvider,
		tracker:  tracker,
		bus:      b,
		pageSize: pageSize,
		resume:   resumePageCap,
		log:      log.Named("orchestrator"),
		cursors:  make(map[string]*rosterCursor),
	}
}

// OnRosterReceived starts the account's sync once its contact list is
// known. A run already in progress for the account makes this a no-op.
func (o *Orchestrator) OnRosterReceived(account string) {
	acc, err := o.db.EnsureAccount(account)
	if err != nil {
		o.log.Error("ensure account", zap.Error(err))
		return
	}
	if err := o.tracker.Transition(account, status.Detecting); err != nil {
		o.log.Debug("sync already running", zap.String("account", account))
		return
	}

	supported := o.detectSupport(acc)
	if !supported {
		// No archive to sync, but the single-entry bootstrap still gives
		// each conversation something to show.
		o.transition(account, status.Bootstrapping)
		o.bootstrapAll(acc, false)
		o.applyServerPrefs(acc)
		return
	}

	ts, err := o.db.LastMessageTimestamp(account)
	if err != nil {
		o.log.Error("last message timestamp", zap.Error(err))
		o.transition(account, status.Idle)
		return
	}
	if ts == 0 {
		o.firstRun(acc)
	} else {
		o.resumeRun(acc)
	}
	o.applyServerPrefs(acc)
}

// IsSupported reports the cached archive-support flag for the account.
func (o *Orchestrator) IsSupported(account string) bool {
	acc, err := o.db.GetAccount(account)
	if err != nil || acc == nil {
		return false
	}
	return acc.Supported()
}

// detectSupport resolves the archive-support flag, asking the server
// only when no cached answer exists. Probe failures are treated as
// unsupported but left uncached so the next run asks again.
func (o *Orchestrator) detectSupport(acc *store.Account) bool {
	if acc.ArchiveSupport != nil {
		return *acc.ArchiveSupport
	}
	supported, err := o.client.Supported(acc.JID)
	if err != nil {
		o.log.Warn("support probe failed",
			zap.String("account", acc.JID),
			zap.Error(err))
		return false
	}
	if err := o.db.SetArchiveSupport(acc.JID, supported); err != nil {
		o.log.Error("cache support flag", zap.Error(err))
	}
	acc.ArchiveSupport = &supported
	return supported
}

// firstRun pins the account's bootstrap timestamp to the newest remote
// entry, keeps that entry, and bulk-bootstraps the whole roster.
func (o *Orchestrator) firstRun(acc *store.Account) {
	o.transition(acc.JID, status.Initializing)

	ts := time.Now().UnixMilli()
	res := o.client.MostRecentPage(acc.JID, "", "", 1)
	if res != nil && len(res.Page) > 0 {
		entry := res.Page[0]
		ts = entry.Stamp
		o.saveGrouped(acc, []xmpp.Forwarded{entry})
	}
	if err := o.db.SetStartHistoryTS(acc.JID, ts); err != nil {
		o.log.Error("set bootstrap timestamp", zap.Error(err))
	}
	acc.StartHistoryTS = ts

	o.transition(acc.JID, status.Bootstrapping)
	o.bootstrapAll(acc, false)
}

// resumeRun catches up on everything missed while offline: a bounded
// forward walk from the last known cursor, falling back to a full bulk
// bootstrap when the walk does not reach the end of the archive.
func (o *Orchestrator) resumeRun(acc *store.Account) {
	o.transition(acc.JID, status.CatchingUp)

	if err := o.migrateLegacy(acc); err != nil {
		o.log.Error("legacy migration", zap.Error(err))
	}

	caughtUp := o.catchUp(acc)
	o.transition(acc.JID, status.Bootstrapping)
	o.bootstrapAll(acc, caughtUp)
}

// catchUp pages forward from the newest locally known cursor. It
// reports whether the walk reached the end of the archive within the
// per-resume page budget.
func (o *Orchestrator) catchUp(acc *store.Account) bool {
	if acc.LoadHistory == store.LoadHistoryNone {
		return false
	}
	cursor, err := o.db.LastArchiveCursor(acc.JID)
	if err != nil {
		o.log.Error("last archive cursor", zap.Error(err))
		return false
	}
	if cursor == "" {
		return false
	}
	for i := 0; i < o.resume; i++ {
		res := o.client.PageAfter(acc.JID, "", "", cursor, o.pageSize)
		if res == nil {
			return false
		}
		o.saveGrouped(acc, res.Page)
		if res.Complete {
			return true
		}
		next := newestAccountCursor(acc.JID, res.Page)
		if next == "" || next == cursor {
			return false
		}
		cursor = next
	}
	return false
}

// saveGrouped splits an account-wide page by peer and saves each group
// through the regular parse/dedup pipeline. Entries whose peer cannot
// be resolved are skipped.
func (o *Orchestrator) saveGrouped(acc *store.Account, page []xmpp.Forwarded) {
	groups := make(map[string][]xmpp.Forwarded)
	var order []string
	for _, f := range page {
		peer := peerOf(acc.JID, &f.Message)
		if peer == "" {
			o.log.Warn("archive entry without a resolvable peer",
				zap.String("account", acc.JID))
			continue
		}
		if _, seen := groups[peer]; !seen {
			order = append(order, peer)
		}
		groups[peer] = append(groups[peer], f)
	}
	for _, peer := range order {
		entries := groups[peer]
		kind := store.KindChat
		if entries[0].Message.GroupExt || entries[0].Message.Type == "groupchat" {
			kind = store.KindGroup
		}
		conv, err := o.registry.Get(acc.JID, peer, kind)
		if err != nil {
			o.log.Error("conversation lookup", zap.Error(err))
			continue
		}
		saved, err := o.saver.SaveBatch(conv, o.parser.ParseBatch(acc, conv, entries, conv.LastCursor()))
		if err != nil {
			o.log.Error("save catch-up page", zap.Error(err))
			continue
		}
		if saved.LastCursor != "" && saved.LastCursor != conv.LastCursor() {
			if err := conv.SetLastCursor(saved.LastCursor); err != nil {
				o.log.Error("update last cursor", zap.Error(err))
			}
		}
	}
}

// peerOf resolves the conversation counterpart of an archive entry.
func peerOf(account string, m *xmpp.Message) string {
	from := xmpp.Bare(m.From)
	if from != "" && from != account {
		return from
	}
	return xmpp.Bare(m.To)
}

// newestAccountCursor returns the account-owned cursor of the newest
// entry in the page.
func newestAccountCursor(account string, page []xmpp.Forwarded) string {
	cursor := ""
	var newest int64 = -1
	for i := range page {
		if c := page[i].Message.ArchiveCursorBy(account); c != "" && page[i].Stamp > newest {
			newest = page[i].Stamp
			cursor = c
		}
	}
	return cursor
}

func (o *Orchestrator) transition(account string, to status.Phase) {
	if err := o.tracker.Transition(account, to); err != nil {
		o.log.Warn("phase transition rejected",
			zap.String("account", account),
			zap.Error(err))
	}
}

// applyServerPrefs reads the server-side archiving preference and
// mirrors it locally.
func (o *Orchestrator) applyServerPrefs(acc *store.Account) {
	p := o.client.RetrievePrefs(acc.JID)
	if p == nil {
		return
	}
	o.recordPrefs(acc.JID, p.Default)
}

// RequestPrefsUpdate writes a new server-side archiving default.
func (o *Orchestrator) RequestPrefsUpdate(account, def string) bool {
	p := o.client.UpdatePrefs(account, def)
	if p == nil {
		return false
	}
	o.recordPrefs(account, p.Default)
	return true
}

func (o *Orchestrator) recordPrefs(account, def string) {
	if err := o.db.SetDefaultBehavior(account, def); err != nil {
		o.log.Error("record prefs", zap.Error(err))
		return
	}
	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Kind:      "prefs.updated",
			Timestamp: time.Now(),
			Payload:   PrefsUpdated{Account: account, Default: def},
		})
	}
}
