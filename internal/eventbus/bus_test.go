package eventbus

import "testing"

func TestPublish_FansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	if got := (<-a).Type; got != "one" {
		t.Fatalf("a got %q", got)
	}
	select {
	case e := <-a:
		t.Fatalf("a should have dropped, got %q", e.Type)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events, want 2", len(c))
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
