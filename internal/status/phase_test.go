package status

import (
	"testing"
	"time"

	"github.com/chatarchive/mamsync/internal/bus"
)

func TestTrackerValidFlow(t *testing.T) {
	tr := NewTracker(nil)
	acc := "me@example.org"

	if tr.Current(acc) != Idle {
		t.Fatalf("fresh account phase = %s, want IDLE", tr.Current(acc))
	}
	for _, p := range []Phase{Detecting, Initializing, Bootstrapping, Synced} {
		if err := tr.Transition(acc, p); err != nil {
			t.Fatalf("transition to %s: %v", p, err)
		}
	}
	if tr.Current(acc) != Synced {
		t.Fatalf("phase = %s, want SYNCED", tr.Current(acc))
	}
}

func TestTrackerRejectsInvalid(t *testing.T) {
	tr := NewTracker(nil)
	acc := "me@example.org"

	if err := tr.Transition(acc, Synced); err == nil {
		t.Fatal("expected error for IDLE -> SYNCED")
	}
	if err := tr.Transition(acc, Detecting); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := tr.Transition(acc, Detecting); err == nil {
		t.Fatal("expected error for DETECTING -> DETECTING")
	}
}

func TestTrackerAccountsIndependent(t *testing.T) {
	tr := NewTracker(nil)
	if err := tr.Transition("a@example.org", Detecting); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if tr.Current("b@example.org") != Idle {
		t.Fatal("second account should still be IDLE")
	}
}

func TestTrackerPublishesChanges(t *testing.T) {
	b := bus.New()
	ch, cancel := b.Subscribe("sync.", 4)
	defer cancel()

	tr := NewTracker(b)
	if err := tr.Transition("me@example.org", Detecting); err != nil {
		t.Fatalf("transition: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != "sync.phase_changed" {
			t.Fatalf("kind = %q", ev.Kind)
		}
		ch, ok := ev.Payload.(PhaseChange)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if ch.From != Idle || ch.To != Detecting || ch.Account != "me@example.org" {
			t.Fatalf("unexpected change %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(nil)
	acc := "me@example.org"
	tr.Transition(acc, Detecting)
	tr.Reset(acc)
	if tr.Current(acc) != Idle {
		t.Fatal("reset should return account to IDLE")
	}
}
