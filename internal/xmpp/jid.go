package xmpp

import (
	"fmt"
	"strings"
)

// Bare strips the resource part of a JID ("user@host/res" -> "user@host").
func Bare(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Resource returns the resource part of a JID, or "" if absent.
func Resource(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[i+1:]
	}
	return ""
}

// ValidateBare checks that jid looks like a bare user@host address.
func ValidateBare(jid string) error {
	at := strings.IndexByte(jid, '@')
	if at <= 0 || at == len(jid)-1 {
		return fmt.Errorf("invalid jid %q", jid)
	}
	if strings.ContainsAny(jid, " /") {
		return fmt.Errorf("invalid jid %q", jid)
	}
	return nil
}
