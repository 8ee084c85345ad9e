// Package bus carries the per session event streams and the one-shot
// cancellation channel between the engine and its caller.
package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// Event is either a log line or the terminal completion of a session.
type Event struct {
	Log        *model.LogEvent
	Completion *model.Completion
}

// Subscription receives the events of one session. C is closed after the
// completion event was delivered.
type Subscription struct {
	C <-chan Event

	sessionID string
	ch        chan Event
	closed    chan struct{}
	once      sync.Once
	bus       *Bus
}

// Close unsubscribes. Pending and future events are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.bus.unsubscribe(s)
	})
}

func (s *Subscription) SessionID() string {
	return s.sessionID
}

type cancelEntry struct {
	fn func() model.CancelResult
}

// Bus is an in-memory session scoped publish/subscribe channel.
type Bus struct {
	mx      sync.Mutex
	subs    map[string][]*Subscription
	cancels map[string]*cancelEntry
}

func New() *Bus {
	return &Bus{
		subs:    make(map[string][]*Subscription),
		cancels: make(map[string]*cancelEntry),
	}
}

// Subscribe registers a subscriber for sessionID. Callers subscribe before
// they start the session, otherwise early events are missed.
func (b *Bus) Subscribe(sessionID string, buffer int) *Subscription {
	ch := make(chan Event, max(buffer, 0))
	s := &Subscription{
		C:         ch,
		sessionID: sessionID,
		ch:        ch,
		closed:    make(chan struct{}),
		bus:       b,
	}
	b.mx.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], s)
	b.mx.Unlock()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mx.Lock()
	defer b.mx.Unlock()
	subs := slices.DeleteFunc(b.subs[s.sessionID], func(x *Subscription) bool { return x == s })
	if len(subs) == 0 {
		delete(b.subs, s.sessionID)
	} else {
		b.subs[s.sessionID] = subs
	}
}

func (b *Bus) snapshot(sessionID string) []*Subscription {
	b.mx.Lock()
	defer b.mx.Unlock()
	return slices.Clone(b.subs[sessionID])
}

// Subscribers returns the number of subscribers of sessionID.
func (b *Bus) Subscribers(sessionID string) int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.subs[sessionID])
}

// PublishLog delivers ev to every subscriber of its session, in publish
// order. It blocks on a full subscriber until the subscriber reads, closes
// or ctx is done. A subscriber with room gets ev even when ctx is done.
func (b *Bus) PublishLog(ctx context.Context, ev model.LogEvent) {
	b.publish(ctx, ev.SessionID, Event{Log: &ev})
}

// PublishDone delivers the completion, then closes and drops all subscribers
// of the session. It must be the last publish of a session.
func (b *Bus) PublishDone(ctx context.Context, c model.Completion) {
	b.publish(ctx, c.SessionID, Event{Completion: &c})

	b.mx.Lock()
	subs := b.subs[c.SessionID]
	delete(b.subs, c.SessionID)
	b.mx.Unlock()
	for _, s := range subs {
		// only the session owner sends on s.ch
		close(s.ch)
	}
}

func (b *Bus) publish(ctx context.Context, sessionID string, ev Event) {
	for _, s := range b.snapshot(sessionID) {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		select {
		case s.ch <- ev:
		case <-s.closed:
		case <-ctx.Done():
		}
	}
}

// HandleCancel installs the cancellation handler of a session. The returned
// release removes it, it is safe to call more than once.
func (b *Bus) HandleCancel(sessionID string, fn func() model.CancelResult) (release func()) {
	e := &cancelEntry{fn: fn}
	b.mx.Lock()
	b.cancels[sessionID] = e
	b.mx.Unlock()
	return func() {
		b.mx.Lock()
		defer b.mx.Unlock()
		if b.cancels[sessionID] == e {
			delete(b.cancels, sessionID)
		}
	}
}

// Cancel fires the cancellation handler of a session. The handler runs at
// most once; without a handler the result is {Cancelled: false}.
func (b *Bus) Cancel(sessionID string) model.CancelResult {
	b.mx.Lock()
	e, ok := b.cancels[sessionID]
	delete(b.cancels, sessionID)
	b.mx.Unlock()
	if !ok {
		return model.CancelResult{Cancelled: false}
	}
	return e.fn()
}
