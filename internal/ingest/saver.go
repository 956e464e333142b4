package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/store"
)

// NewMessage is the payload published on "message.new" for entries the
// user has not seen yet.
type NewMessage struct {
	Account   string
	Peer      string
	MessageID string
	Body      string
}

// SavedMessage is the payload published on "message.saved".
type SavedMessage struct {
	Account   string
	Peer      string
	MessageID string
	Cursor    string
}

// Saver persists parsed archive entries, folding duplicates into the
// rows they already match.
type Saver struct {
	db       *store.DB
	bus      *bus.Bus
	registry *chat.Registry
	log      *zap.Logger
}

func NewSaver(db *store.DB, b *bus.Bus, registry *chat.Registry, log *zap.Logger) *Saver {
	return &Saver{
		db:       db,
		bus:      b,
		registry: registry,
		log:      log.Named("saver"),
	}
}

// SaveResult summarizes one batch: how many new rows were written and
// the newest archive cursor seen, including cursors of entries that
// merged into existing rows.
type SaveResult struct {
	Saved      int
	LastCursor string
}

// SaveBatch writes a parsed batch inside one transaction. Entries that
// match an already stored message by identity are not inserted again;
// their archive cursor is grafted onto the existing row instead, which
// links locally created copies of outgoing messages into the chain.
func (s *Saver) SaveBatch(conv *chat.Conversation, batch []*Parsed) (*SaveResult, error) {
	res := &SaveResult{}
	if len(batch) == 0 {
		return res, nil
	}

	var announce []*store.Message

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Snapshot reads run outside the transaction, so duplicates inside
	// the same batch are tracked here.
	inserted := make([]Identifiers, 0, len(batch))

	for _, p := range batch {
		m := p.Msg
		if c := m.Cursor(); c != "" {
			res.LastCursor = c
		}

		dup, err := s.findDuplicate(m, inserted)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			if dup.Cursor() == "" && m.Cursor() != "" {
				if err := store.SetArchiveCursorTx(tx, dup.ID, m.Cursor()); err != nil {
					return nil, err
				}
			}
			// The archive echoing an outgoing copy back means the
			// server accepted it.
			if !dup.Incoming && !dup.Sent && m.FromArchive {
				if err := store.MarkSentTx(tx, dup.ID); err != nil {
					return nil, err
				}
			}
			continue
		}

		if err := store.InsertMessageTx(tx, m); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		inserted = append(inserted, FromStored(m))

		if len(p.Inner) > 0 {
			ids := make([]string, 0, len(p.Inner))
			for _, inner := range p.Inner {
				if err := store.InsertMessageTx(tx, inner); err != nil {
					return nil, fmt.Errorf("insert forwarded message: %w", err)
				}
				ids = append(ids, inner.ID)
			}
			raw, _ := json.Marshal(ids)
			if err := store.SetForwardedIDsTx(tx, m.ID, string(raw)); err != nil {
				return nil, err
			}
		}

		res.Saved++
		announce = append(announce, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	for _, m := range announce {
		s.publish(conv, m)
	}
	return res, nil
}

// SaveOutgoing records a locally composed message before the transport
// has accepted it. The fresh origin id is what the archive copy will
// later carry, so SaveBatch folds that copy into this row instead of
// duplicating it.
func (s *Saver) SaveOutgoing(conv *chat.Conversation, body string) (*store.Message, error) {
	m := &store.Message{
		ID:        uuid.NewString(),
		Account:   conv.Account,
		Peer:      conv.Peer,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
		Read:      true,
		OriginID:  uuid.NewString(),
	}
	if err := s.db.InsertMessage(m); err != nil {
		return nil, fmt.Errorf("insert outgoing: %w", err)
	}
	s.publish(conv, m)
	return m, nil
}

func (s *Saver) findDuplicate(m *store.Message, inBatch []Identifiers) (*store.Message, error) {
	ids := FromStored(m)
	for _, prev := range inBatch {
		if SameArchiveEntry(ids, prev) {
			// Same entry appeared twice in one batch; nothing to merge.
			return m, nil
		}
	}
	candidates, err := s.db.CandidatesByBody(m.Account, m.Peer, m.Body)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	for _, c := range candidates {
		if SameArchiveEntry(ids, FromStored(c)) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *Saver) publish(conv *chat.Conversation, m *store.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      "message.saved",
		Timestamp: time.Now(),
		Payload: SavedMessage{
			Account:   m.Account,
			Peer:      m.Peer,
			MessageID: m.ID,
			Cursor:    m.Cursor(),
		},
	})
	if m.Incoming && !m.Read && m.Body != "" && !s.registry.IsForeground(m.Account, m.Peer) {
		s.bus.Publish(bus.Event{
			Kind:      "message.new",
			Timestamp: time.Now(),
			Payload: NewMessage{
				Account:   m.Account,
				Peer:      m.Peer,
				MessageID: m.ID,
				Body:      m.Body,
			},
		})
	}
}
