// Package event defines the broadcast records emitted by contract
// executions, the emitter interface contracts use to publish them and the
// append-only log the ledger keeps for audit visibility.
//
// Events are fire-and-forget. Nothing in the runtime consumes them to make
// decisions, they only document what happened.
package event

import (
	"context"
	"sync"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core"
)

// MaxTopics bounds the topic tuple of an event.
const MaxTopics = 4

// Event is a broadcast record made of a topic tuple and a payload.
type Event struct {
	Topics []string
	Data   []byte
}

// Emitter is the interface contracts use to broadcast events.
type Emitter interface {
	Emit(Event)
}

// Log is an append-only record of the events broadcast by committed
// invocations.
type Log struct {
	sync.RWMutex

	events  []Event
	watcher core.Observable
}

// NewLog creates a new empty event log.
func NewLog() *Log {
	return &Log{
		watcher: core.NewWatcher(),
	}
}

// Append records the event and notifies the watchers.
func (l *Log) Append(evt Event) {
	l.Lock()
	l.events = append(l.events, evt)
	l.Unlock()

	l.watcher.Notify(evt)
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.RLock()
	defer l.RUnlock()

	return len(l.events)
}

// All returns a copy of the recorded events in order of appearance.
func (l *Log) All() []Event {
	l.RLock()
	defer l.RUnlock()

	events := make([]Event, len(l.events))
	copy(events, l.events)

	return events
}

// Watch returns a channel populated with the events appended after the call.
// The observer is unregistered when the context is done.
func (l *Log) Watch(ctx context.Context) <-chan Event {
	ch := make(chan Event, 100)

	obs := observer{ch: ch}
	l.watcher.Add(obs)

	go func() {
		<-ctx.Done()
		l.watcher.Remove(obs)
		close(ch)
	}()

	return ch
}

// Buffer collects the events emitted during a single invocation so they can
// be appended to the log on commit, or discarded alongside the staged writes
// when the invocation aborts.
//
// - implements event.Emitter
type Buffer struct {
	events []Event
}

// Emit implements event.Emitter. It records the event for a later flush.
// Events with too many topics are dropped.
func (b *Buffer) Emit(evt Event) {
	if len(evt.Topics) > MaxTopics {
		custos.Logger.Warn().
			Int("topics", len(evt.Topics)).
			Msg("event dropped")

		return
	}

	b.events = append(b.events, evt)
}

// Events returns the buffered events in order of emission.
func (b *Buffer) Events() []Event {
	return b.events
}

// Reset discards the buffered events.
func (b *Buffer) Reset() {
	b.events = nil
}

// observer forwards the events of a log to a watcher channel.
//
// - implements core.Observer
type observer struct {
	ch chan Event
}

// NotifyCallback implements core.Observer. It pushes the event to the
// channel.
func (obs observer) NotifyCallback(event interface{}) {
	obs.ch <- event.(Event)
}
