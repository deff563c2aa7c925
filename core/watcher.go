// Package core implements tools shared by the policy engine packages.
package core

import "sync"

// Observer is the interface to implement to be notified of events.
type Observer interface {
	NotifyCallback(event interface{})
}

// Observable provides primitives to register observers and to broadcast
// events to them.
type Observable interface {
	// Add registers the observer so that it receives future events.
	Add(observer Observer)

	// Remove unregisters the observer so that it stops receiving events.
	Remove(observer Observer)

	// Notify broadcasts the event to every registered observer.
	Notify(event interface{})
}

// Watcher is an implementation of the Observable interface backed by a set
// of observers.
//
// - implements core.Observable
type Watcher struct {
	sync.RWMutex

	observers map[Observer]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		observers: make(map[Observer]struct{}),
	}
}

// Add implements core.Observable. It registers the observer so that it will
// receive future events.
func (w *Watcher) Add(observer Observer) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements core.Observable. It unregisters the observer so that it
// stops receiving events.
func (w *Watcher) Remove(observer Observer) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Notify implements core.Observable. It broadcasts the event to every
// registered observer, one after the other. An observer blocking in its
// callback blocks the notifier, so callbacks are expected to use buffered
// channels.
func (w *Watcher) Notify(event interface{}) {
	w.RLock()
	defer w.RUnlock()

	for obs := range w.observers {
		obs.NotifyCallback(event)
	}
}

// Len returns the number of registered observers.
func (w *Watcher) Len() int {
	w.RLock()
	defer w.RUnlock()

	return len(w.observers)
}
