package hwobj

import (
	"sync"
	"time"
)

// Signal is a state-change notification emitted by a hardware object.
type Signal struct {
	Object string    `json:"Object"`
	Name   string    `json:"Name"`
	Value  any       `json:"Value"`
	Time   time.Time `json:"Time"`
}

type Subscription struct {
	ch chan Signal
	em *Emitter
}

func (s *Subscription) Channel() <-chan Signal {
	return s.ch
}

func (s *Subscription) Unsubscribe() {
	s.em.unsubscribe(s)
}

// Emitter fans signals out to subscribers. Delivery is non-blocking: a
// subscriber whose queue is full misses the signal instead of stalling the
// emitting device.
type Emitter struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	qLen int
}

// NewEmitter creates an emitter with the given per-subscriber queue length.
func NewEmitter(queueLen int) *Emitter {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Emitter{
		subs: make(map[*Subscription]struct{}),
		qLen: queueLen,
	}
}

func (e *Emitter) Subscribe() *Subscription {
	sub := &Subscription{
		ch: make(chan Signal, e.qLen),
		em: e,
	}

	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	return sub
}

func (e *Emitter) unsubscribe(sub *Subscription) {
	e.mu.Lock()
	delete(e.subs, sub)
	e.mu.Unlock()
}

// Emit delivers a signal to every subscriber that has queue space.
func (e *Emitter) Emit(object, name string, value any) {
	sig := Signal{
		Object: object,
		Name:   name,
		Value:  value,
		Time:   time.Now(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for sub := range e.subs {
		select {
		case sub.ch <- sig:
		default:
			// Slow subscriber, drop the signal.
		}
	}
}
