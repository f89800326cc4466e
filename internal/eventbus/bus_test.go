package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TaskLaunched})
	b.Publish(Event{Type: TaskLaunchFailed})

	if got := len(a); got != 1 {
		t.Fatalf("small subscriber buffered %d events, want 1", got)
	}
	if got := len(c); got != 2 {
		t.Fatalf("large subscriber buffered %d events, want 2", got)
	}
	e := <-c
	if e.Type != TaskLaunched || e.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", e)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	b.Publish(Event{Type: TasksReloaded})
}
