package reader

import (
	"sync"

	"orienteer/punchcard-go/pkg/logger"
)

// Observer receives reader events. Callbacks run synchronously on the read
// loop, in registration order; a slow observer delays the next frame, so
// observers that do real work should hand off to their own goroutine or
// channel.
type Observer interface {
	OnReaderEvent(ev Event)
}

// observerList is an identity-keyed observer registry with panic-isolated
// fan-out: one misbehaving observer cannot stop delivery to the rest.
type observerList struct {
	mu        sync.Mutex
	observers []Observer
	log       logger.Logger
}

func newObserverList(log logger.Logger) *observerList {
	return &observerList{log: log}
}

func (ol *observerList) add(o Observer) {
	if o == nil {
		return
	}
	ol.mu.Lock()
	defer ol.mu.Unlock()
	ol.observers = append(ol.observers, o)
}

// remove unregisters the observer by identity. Unknown observers are a no-op.
func (ol *observerList) remove(o Observer) {
	ol.mu.Lock()
	defer ol.mu.Unlock()
	for i, existing := range ol.observers {
		if existing == o {
			ol.observers = append(ol.observers[:i], ol.observers[i+1:]...)
			return
		}
	}
}

// notify invokes every observer in registration order. Panics are recovered
// and logged so the frame-processing loop never dies to observer code.
func (ol *observerList) notify(ev Event) {
	ol.mu.Lock()
	snapshot := make([]Observer, len(ol.observers))
	copy(snapshot, ol.observers)
	ol.mu.Unlock()

	for _, o := range snapshot {
		ol.dispatch(o, ev)
	}
}

func (ol *observerList) dispatch(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ol.log.Error("Observer panicked on %s event: %v", ev.Type, r)
		}
	}()
	o.OnReaderEvent(ev)
}

// ObserverFunc adapts a function to the Observer interface. Register the same
// pointer you intend to remove with.
type ObserverFunc func(ev Event)

// OnReaderEvent implements Observer.
func (f *ObserverFunc) OnReaderEvent(ev Event) {
	(*f)(ev)
}
