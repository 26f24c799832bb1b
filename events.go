package main

import "log"

// EventKind discriminates pipeline notifications.
type EventKind int

const (
	EventProgress EventKind = iota
	EventStatus
	EventColumnStarted
	EventError
)

// Event is one typed progress/status notification. Fraction is only set for
// EventProgress, Column only for EventColumnStarted.
type Event struct {
	Kind     EventKind
	Fraction float64
	Message  string
	Column   string
}

// Notifier carries events from the pipeline worker to whoever observes the
// run. Delivery is best-effort: when the buffer is full the event is dropped
// rather than blocking or aborting processing. A nil Notifier discards
// everything.
type Notifier struct {
	ch chan Event
}

func NewNotifier(buffer int) *Notifier {
	if buffer < 1 {
		buffer = 64
	}
	return &Notifier{ch: make(chan Event, buffer)}
}

func (n *Notifier) Events() <-chan Event {
	if n == nil {
		return nil
	}
	return n.ch
}

func (n *Notifier) Close() {
	if n != nil {
		close(n.ch)
	}
}

func (n *Notifier) emit(e Event) {
	if n == nil {
		return
	}
	select {
	case n.ch <- e:
	default:
		// Observer is behind; progress reporting must never stall the run.
	}
}

func (n *Notifier) Progress(fraction float64) {
	n.emit(Event{Kind: EventProgress, Fraction: fraction})
}

func (n *Notifier) Status(message string) {
	n.emit(Event{Kind: EventStatus, Message: message})
}

func (n *Notifier) ColumnStarted(column string) {
	n.emit(Event{Kind: EventColumnStarted, Column: column})
}

func (n *Notifier) Error(message string) {
	log.Printf("pipeline error event: %s", message)
	n.emit(Event{Kind: EventError, Message: message})
}
