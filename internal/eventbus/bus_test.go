package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Emit(b, FeedFetched, map[string]any{"entity": "octocat"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != FeedFetched || e.Data["entity"] != "octocat" || e.Time.IsZero() {
			t.Fatalf("unexpected event: %+v", e)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	Emit(b, DispatchSent, nil)
	Emit(b, DispatchFailed, nil)

	if e := <-ch; e.Type != DispatchSent {
		t.Fatalf("got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %q", e.Type)
	default:
	}
}

func TestUnsubscribeClosesAndStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	Emit(b, CommandHandled, nil)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestEmitNilBus(t *testing.T) {
	Emit(nil, FeedFailed, nil)
}
