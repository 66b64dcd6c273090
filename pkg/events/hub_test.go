package events

import "testing"

func TestPublishFanOut(t *testing.T) {
	h := NewEventHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(Progress, ProgressEvent{Step: 3, Total: 10, Message: "row 3"})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		if ev.Name != Progress {
			t.Fatalf("event name = %q, want %q", ev.Name, Progress)
		}
		p, err := DecodeAs[ProgressEvent](ev)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Step != 3 || p.Total != 10 {
			t.Errorf("payload = %+v", p)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()

	for i := 0; i < 40; i++ {
		h.Publish(Position, PositionEvent{X: i})
	}

	// Buffer holds 16; the rest were dropped and Publish never blocked.
	if got := len(ch); got != 16 {
		t.Errorf("buffered events = %d, want 16", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Double unsubscribe must not panic on a closed channel.
	h.Unsubscribe(ch)
	h.Publish(Error, ErrorEvent{Kind: "busy", Message: "x"})
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var h *EventHub
	h.Publish(Sensors, SensorsEvent{XBegin: true})
}
