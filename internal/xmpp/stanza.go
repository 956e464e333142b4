package xmpp

// Reference is a structured annotation over a span of the message body,
// e.g. a mention or a media link that should replace the raw span.
type Reference struct {
	Begin   int
	End     int
	Replace string // display text substituted for the span; "" keeps the span
	Markup  string // optional rich-markup rendering of the span
}

// Invite carries a group-chat invitation payload. Invitations ride inside
// archive results but are routed to the invite pipeline, never stored as
// messages.
type Invite struct {
	GroupJID string
	Reason   string
}

// Message is a neutral struct model of the stanza surface the sync core
// needs. The transport decodes the on-the-wire form into this shape.
type Message struct {
	From string
	To   string
	Type string // "chat" or "groupchat"
	Body string

	// PacketID is the stanza 'id' attribute. OriginID and the by-owner
	// stanza/archive ids are the protocol-assigned correlation ids.
	PacketID string
	OriginID string
	// StanzaIDs maps the id-owner bare JID to the stanza id it assigned.
	StanzaIDs map[string]string
	// ArchiveIDs maps the archive-owner bare JID to the archive cursor it
	// assigned to this entry.
	ArchiveIDs map[string]string

	// DelayStamp is the delivery-delay timestamp carried on the message
	// itself (unix ms), 0 if absent.
	DelayStamp int64

	Invite         *Invite
	ForwardComment string    // legacy forward-comment text, "" if absent
	Forwards       []Message // messages nested inside a forward payload
	References     []Reference

	// GroupExt reports whether the stanza carries the group-chat extension
	// that makes the peer, not the account, the archive-id owner.
	GroupExt bool
}

// StanzaIDBy returns the stanza id assigned by the given owner, or "".
func (m *Message) StanzaIDBy(owner string) string {
	if m.StanzaIDs == nil {
		return ""
	}
	return m.StanzaIDs[owner]
}

// ArchiveCursorBy returns the archive cursor assigned by the given owner, or "".
func (m *Message) ArchiveCursorBy(owner string) string {
	if m.ArchiveIDs == nil {
		return ""
	}
	return m.ArchiveIDs[owner]
}

// Forwarded is one archive entry: the original stanza plus the delay
// timestamp the archive recorded for it (unix ms).
type Forwarded struct {
	Message Message
	Stamp   int64
}
