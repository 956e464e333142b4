package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("history.", 10)
	defer unsub()

	b.Publish(Event{Kind: "history.load_started", Timestamp: time.Now()})
	b.Publish(Event{Kind: "message.new", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != "history.load_started" {
			t.Errorf("kind = %q, want history.load_started", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The message.* event must not be delivered to a history.* subscriber.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q", evt.Kind)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	unsub()

	b.Publish(Event{Kind: "sync.phase_changed"})
	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("message.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: "message.saved"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
