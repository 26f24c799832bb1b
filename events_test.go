package main

import "testing"

func TestNotifierDropsWhenObserverIsBehind(t *testing.T) {
	n := NewNotifier(2)

	// Nobody is reading; emits past the buffer must not block.
	for i := 0; i < 10; i++ {
		n.Progress(float64(i) / 10)
	}
	n.Close()

	count := 0
	for range n.Events() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 buffered events, got %d", count)
	}
}

func TestNotifierNilSafe(t *testing.T) {
	var n *Notifier
	n.Progress(0.5)
	n.Status("ok")
	n.ColumnStarted("2")
	if n.Events() != nil {
		t.Fatal("nil notifier must expose a nil channel")
	}
}

func TestNotifierEventKinds(t *testing.T) {
	n := NewNotifier(8)
	n.Progress(0.25)
	n.Status("working")
	n.ColumnStarted("2_OTRO")
	n.Error("boom")
	n.Close()

	var got []Event
	for e := range n.Events() {
		got = append(got, e)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[0].Kind != EventProgress || got[0].Fraction != 0.25 {
		t.Fatalf("unexpected progress event: %+v", got[0])
	}
	if got[1].Kind != EventStatus || got[1].Message != "working" {
		t.Fatalf("unexpected status event: %+v", got[1])
	}
	if got[2].Kind != EventColumnStarted || got[2].Column != "2_OTRO" {
		t.Fatalf("unexpected column event: %+v", got[2])
	}
	if got[3].Kind != EventError || got[3].Message != "boom" {
		t.Fatalf("unexpected error event: %+v", got[3])
	}
}
