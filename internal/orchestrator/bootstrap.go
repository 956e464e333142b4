package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/roster"
	"github.com/chatarchive/mamsync/internal/status"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// rosterCursor walks the roster one contact at a time, requesting each
// contact's single newest archive entry. Only one request is in flight
// per account; the response (or its failure) advances the cursor.
type rosterCursor struct {
	acc   *store.Account
	queue []roster.Contact
}

// bootstrapAll starts the bulk last-message bootstrap. With missedOnly
// set, only contacts without any stored history whose backfill was
// never attempted are visited.
func (o *Orchestrator) bootstrapAll(acc *store.Account, missedOnly bool) {
	if acc.LoadHistory == store.LoadHistoryNone {
		o.log.Info("history loading disabled, skipping bootstrap",
			zap.String("account", acc.JID))
		o.finishBootstrap(acc.JID)
		return
	}
	contacts, err := o.roster.Contacts(acc.JID)
	if err != nil {
		o.log.Error("roster", zap.Error(err))
		o.finishBootstrap(acc.JID)
		return
	}
	if missedOnly {
		var missed []roster.Contact
		for _, c := range contacts {
			n, err := o.db.TopLevelCount(acc.JID, c.JID)
			if err != nil || n > 0 {
				continue
			}
			rec, err := o.db.GetConversation(acc.JID, c.JID)
			if err == nil && rec != nil && rec.HistoryRequested {
				continue
			}
			missed = append(missed, c)
		}
		contacts = missed
	}

	o.mu.Lock()
	o.cursors[acc.JID] = &rosterCursor{acc: acc, queue: contacts}
	o.mu.Unlock()
	o.advanceBootstrap(acc.JID)
}

// advanceBootstrap issues the request for the next contact in the
// queue. Contacts that cannot be requested are skipped; an exhausted
// queue completes the bootstrap.
func (o *Orchestrator) advanceBootstrap(account string) {
	for {
		o.mu.Lock()
		cur, ok := o.cursors[account]
		if !ok || len(cur.queue) == 0 {
			delete(o.cursors, account)
			o.mu.Unlock()
			if ok {
				o.finishBootstrap(account)
			}
			return
		}
		contact := cur.queue[0]
		cur.queue = cur.queue[1:]
		acc := cur.acc
		o.mu.Unlock()

		kind := store.KindChat
		if contact.Group {
			kind = store.KindGroup
		}
		conv, err := o.registry.Get(account, contact.JID, kind)
		if err != nil {
			o.log.Error("conversation lookup", zap.Error(err))
			continue
		}
		issued := o.client.RequestLastMessageAsync(account, contact.JID, conv.ArchiveAddress(),
			func(account, peer string, page []xmpp.Forwarded, complete, failed bool) {
				o.onBootstrapResult(acc, peer, page, failed)
			})
		if issued {
			return
		}
	}
}

// onBootstrapResult stores one contact's newest entry and moves on.
func (o *Orchestrator) onBootstrapResult(acc *store.Account, peer string, page []xmpp.Forwarded, failed bool) {
	if !failed && len(page) > 0 {
		o.saveGrouped(acc, page)
	}
	if conv := o.registry.Lookup(acc.JID, peer); conv != nil && !conv.HistoryRequested() {
		if err := conv.SetHistoryRequested(); err != nil {
			o.log.Error("mark history requested", zap.Error(err))
		}
	}
	o.advanceBootstrap(acc.JID)
}

func (o *Orchestrator) finishBootstrap(account string) {
	o.transition(account, status.Synced)
	o.log.Info("bootstrap complete", zap.String("account", account))
	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Kind:      "sync.bootstrap_complete",
			Timestamp: time.Now(),
			Payload:   BootstrapComplete{Account: account},
		})
	}
}
