package bus

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	b := New()
	a := b.Subscribe("a")
	c := b.Subscribe("c")

	b.Publish("channel.install", map[string]string{"channel": "discord"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "channel.install" || e.TS == "" {
				t.Errorf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe("x")
	b.Unsubscribe("x")
	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
	// Idempotent.
	b.Unsubscribe("x")
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish("tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", got, subscriberBuffer)
	}
}
