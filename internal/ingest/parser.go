package ingest

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// Decryptor rewrites encrypted payloads in place. It reports whether
// the payload was encrypted; an error means the entry cannot be
// recovered and is skipped.
type Decryptor interface {
	Decrypt(account string, m *xmpp.Message) (encrypted bool, err error)
}

// InviteSink receives group invitations found inside archive results.
// Invitations are routed here and never stored as messages.
type InviteSink interface {
	OnInvite(account, from string, inv xmpp.Invite)
}

// PlainDecryptor treats every payload as plaintext.
type PlainDecryptor struct{}

func (PlainDecryptor) Decrypt(string, *xmpp.Message) (bool, error) { return false, nil }

// DropInvites discards invitations.
type DropInvites struct{}

func (DropInvites) OnInvite(string, string, xmpp.Invite) {}

// Parsed is one archive entry converted to storable form: the top-level
// message plus the messages nested inside its forward payload.
type Parsed struct {
	Msg   *store.Message
	Inner []*store.Message
}

// Parser converts archive entries into message records.
type Parser struct {
	decryptor Decryptor
	invites   InviteSink
	log       *zap.Logger
}

func NewParser(decryptor Decryptor, invites InviteSink, log *zap.Logger) *Parser {
	if decryptor == nil {
		decryptor = PlainDecryptor{}
	}
	if invites == nil {
		invites = DropInvites{}
	}
	return &Parser{
		decryptor: decryptor,
		invites:   invites,
		log:       log.Named("ingest"),
	}
}

// ParseBatch converts one page of archive entries into storable
// messages. Entries are sorted oldest first, consecutive entries are
// chained through their archive cursors, and everything older than the
// last outgoing message is marked read. prevHint, when known, is the
// cursor of the entry right before the page; it links the oldest entry
// of the page instead of leaving it gapped.
func (p *Parser) ParseBatch(acc *store.Account, conv *chat.Conversation, page []xmpp.Forwarded, prevHint string) []*Parsed {
	sorted := make([]xmpp.Forwarded, len(page))
	copy(sorted, page)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stamp < sorted[j].Stamp })

	out := make([]*Parsed, 0, len(sorted))
	prevCursor := prevHint
	for i := range sorted {
		parsed := p.parseOne(acc, conv, &sorted[i])
		if parsed == nil {
			continue
		}
		if prevCursor != "" && parsed.Msg.PreviousCursor == nil {
			link := prevCursor
			parsed.Msg.PreviousCursor = &link
		}
		if c := parsed.Msg.Cursor(); c != "" {
			prevCursor = c
		}
		out = append(out, parsed)
	}

	markReadBeforeLastOutgoing(out)
	return out
}

func (p *Parser) parseOne(acc *store.Account, conv *chat.Conversation, fwd *xmpp.Forwarded) *Parsed {
	msg := fwd.Message

	if msg.Invite != nil {
		p.invites.OnInvite(acc.JID, xmpp.Bare(msg.From), *msg.Invite)
		return nil
	}

	encrypted, err := p.decryptor.Decrypt(acc.JID, &msg)
	if err != nil {
		p.log.Warn("dropping undecryptable archive entry",
			zap.String("account", acc.JID),
			zap.String("peer", conv.Peer))
		return nil
	}

	owner := conv.CursorOwner()
	ts := fwd.Stamp
	if ts == 0 {
		ts = msg.DelayStamp
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	body := msg.Body
	if body == "" && msg.ForwardComment != "" {
		body = msg.ForwardComment
	}
	body, markup := expandReferences(body, msg.References)

	incoming := xmpp.Bare(msg.From) == conv.Peer

	rec := &store.Message{
		ID:          uuid.NewString(),
		Account:     acc.JID,
		Peer:        conv.Peer,
		Resource:    xmpp.Resource(msg.From),
		Body:        body,
		MarkupBody:  markup,
		Timestamp:   ts,
		DelayTS:     msg.DelayStamp,
		Incoming:    incoming,
		Read:        ts <= acc.StartHistoryTS,
		Sent:        !incoming,
		Acked:       !incoming,
		Encrypted:   encrypted,
		FromArchive: true,
		OriginID:    msg.OriginID,
		StanzaID:    msg.StanzaIDBy(owner),
		PacketID:    msg.PacketID,
	}
	if c := msg.ArchiveCursorBy(owner); c != "" {
		rec.ArchiveCursor = &c
	}

	parsed := &Parsed{Msg: rec}
	for i := range msg.Forwards {
		if inner := p.parseInner(acc, conv, &msg.Forwards[i], rec); inner != nil {
			parsed.Inner = append(parsed.Inner, inner)
		}
	}
	return parsed
}

// parseInner converts a message nested in a forward payload. Inner
// messages never carry archive cursors of this conversation and are
// stored read, attached to their parent.
func (p *Parser) parseInner(acc *store.Account, conv *chat.Conversation, msg *xmpp.Message, parent *store.Message) *store.Message {
	if msg.Invite != nil {
		return nil
	}
	if _, err := p.decryptor.Decrypt(acc.JID, msg); err != nil {
		return nil
	}
	ts := msg.DelayStamp
	if ts == 0 {
		ts = parent.Timestamp
	}
	body, markup := expandReferences(msg.Body, msg.References)
	return &store.Message{
		ID:          uuid.NewString(),
		Account:     acc.JID,
		Peer:        conv.Peer,
		Resource:    xmpp.Resource(msg.From),
		Body:        body,
		MarkupBody:  markup,
		Timestamp:   ts,
		DelayTS:     msg.DelayStamp,
		Incoming:    xmpp.Bare(msg.From) != acc.JID,
		Read:        true,
		Sent:        true,
		Acked:       true,
		FromArchive: true,
		OriginID:    msg.OriginID,
		PacketID:    msg.PacketID,
		ParentID:    &parent.ID,
	}
}

// markReadBeforeLastOutgoing marks everything up to and including the
// newest outgoing entry as read: the account replied after those
// messages, so it has seen them.
func markReadBeforeLastOutgoing(batch []*Parsed) {
	last := -1
	for i, p := range batch {
		if !p.Msg.Incoming {
			last = i
		}
	}
	for i := 0; i <= last; i++ {
		batch[i].Msg.Read = true
	}
}

// expandReferences applies reference replacements to the body and
// renders the markup variant. References are applied back to front so
// earlier offsets stay valid.
func expandReferences(body string, refs []xmpp.Reference) (string, string) {
	if len(refs) == 0 {
		return body, ""
	}
	sorted := make([]xmpp.Reference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Begin > sorted[j].Begin })

	plain := body
	markup := body
	changedMarkup := false
	for _, r := range sorted {
		if r.Begin < 0 || r.End > len(body) || r.Begin > r.End {
			continue
		}
		if r.Replace != "" {
			plain = splice(plain, r.Begin, r.End, r.Replace)
		}
		if r.Markup != "" {
			markup = splice(markup, r.Begin, r.End, r.Markup)
			changedMarkup = true
		} else if r.Replace != "" {
			markup = splice(markup, r.Begin, r.End, r.Replace)
		}
	}
	if !changedMarkup {
		return plain, ""
	}
	return plain, markup
}

func splice(s string, begin, end int, repl string) string {
	if begin > len(s) {
		return s
	}
	if end > len(s) {
		end = len(s)
	}
	var b strings.Builder
	b.WriteString(s[:begin])
	b.WriteString(repl)
	b.WriteString(s[end:])
	return b.String()
}
