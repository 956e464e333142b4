// Package chain repairs the backward links between archived messages.
// A message with an archive cursor but no link to its predecessor is a
// gap; the healer fills the missing span with time-range queries and
// then closes the link.
package chain

import (
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/archive"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

type Healer struct {
	db       *store.DB
	client   *archive.Client
	parser   *ingest.Parser
	saver    *ingest.Saver
	pageSize int
	pageCap  int
	log      *zap.Logger
}

func NewHealer(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, pageSize, pageCap int, log *zap.Logger) *Healer {
	return &Healer{
		db:       db,
		client:   client,
		parser:   parser,
		saver:    saver,
		pageSize: pageSize,
		pageCap:  pageCap,
		log:      log.Named("chain"),
	}
}

// HealGaps finds every gapped message of the conversation and tries to
// close each one. Failures leave the gap in place for a later pass.
func (h *Healer) HealGaps(acc *store.Account, conv *chat.Conversation) error {
	gapped, err := h.db.Gapped(acc.JID, conv.Peer)
	if err != nil {
		return err
	}
	for _, g := range gapped {
		if err := h.healOne(acc, conv, g); err != nil {
			return err
		}
	}
	return nil
}

// healOne fetches the span between a gapped message and the newest
// archived message older than it. When the span is fully fetched the
// gap link is set to the newest cursor inside the span, or straight to
// the anchor when the span turned out empty.
func (h *Healer) healOne(acc *store.Account, conv *chat.Conversation, g *store.Message) error {
	anchor, err := h.db.AnchorBefore(acc.JID, conv.Peer, g.Timestamp)
	if err != nil {
		return err
	}
	if anchor == nil {
		// Nothing older is archived; the gap starts the known history
		// and backward paging will resolve it.
		return nil
	}

	start := anchor.Timestamp + 1
	end := g.Timestamp - 1
	hint := anchor.Cursor()
	newestCursor := ""

	for i := 0; i < h.pageCap; i++ {
		res := h.client.RangeQuery(acc.JID, conv.Peer, conv.ArchiveAddress(), start, end, h.pageSize)
		if res == nil {
			// Soft failure: treat the span as exhausted here.
			break
		}
		saved, err := h.saver.SaveBatch(conv, h.parser.ParseBatch(acc, conv, res.Page, hint))
		if err != nil {
			return err
		}
		if saved.LastCursor != "" && saved.LastCursor != g.Cursor() {
			newestCursor = saved.LastCursor
			hint = saved.LastCursor
		}
		if res.Complete || len(res.Page) == 0 {
			break
		}
		start = lastStamp(res.Page) + 1
	}

	// Link to the newest entry fetched from the span, or accept the
	// anchor as the true predecessor when the span was empty.
	link := newestCursor
	if link == "" {
		link = anchor.Cursor()
	}
	if link == "" || link == g.Cursor() {
		return nil
	}
	h.log.Debug("gap closed",
		zap.String("account", acc.JID),
		zap.String("peer", conv.Peer),
		zap.String("cursor", g.Cursor()),
		zap.String("previous", link))
	return h.db.SetPreviousCursor(g.ID, &link)
}

func lastStamp(page []xmpp.Forwarded) int64 {
	var max int64
	for _, f := range page {
		if f.Stamp > max {
			max = f.Stamp
		}
	}
	return max
}
