package chatclient

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus is a multi-subscriber registry decoupling the Channel from its
// consumers. It has no buffering: an event reaches exactly the listeners
// registered at dispatch time, in subscription order. Dispatch iterates a
// snapshot of the listener set, so unsubscribing mid-dispatch never affects
// delivery to the other listeners of the same pass. A panicking listener is
// recovered and logged so it cannot starve the listeners after it.
type Bus struct {
	fragments   subscriberList[Fragment]
	completions subscriberList[Completion]
	failures    subscriberList[Failure]
	controls    subscriberList[Control]
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeFragment registers fn for fragment events and returns its
// disposer. Disposers are idempotent.
func (b *Bus) SubscribeFragment(fn func(Fragment)) func() {
	return b.fragments.add(fn)
}

// SubscribeCompletion registers fn for completion events.
func (b *Bus) SubscribeCompletion(fn func(Completion)) func() {
	return b.completions.add(fn)
}

// SubscribeFailure registers fn for failure events.
func (b *Bus) SubscribeFailure(fn func(Failure)) func() {
	return b.failures.add(fn)
}

// SubscribeControl registers fn for control events.
func (b *Bus) SubscribeControl(fn func(Control)) func() {
	return b.controls.add(fn)
}

// PublishFragment delivers ev to all current fragment listeners.
func (b *Bus) PublishFragment(ev Fragment) {
	b.fragments.publish("fragment", ev)
}

// PublishCompletion delivers ev to all current completion listeners.
func (b *Bus) PublishCompletion(ev Completion) {
	b.completions.publish("completion", ev)
}

// PublishFailure delivers ev to all current failure listeners.
func (b *Bus) PublishFailure(ev Failure) {
	b.failures.publish("failure", ev)
}

// PublishControl delivers ev to all current control listeners.
func (b *Bus) PublishControl(ev Control) {
	b.controls.publish("control", ev)
}

// SubscriberCount reports the number of live registrations across all
// categories. The supervisor uses it to decide when a conversation's channel
// scope is no longer needed.
func (b *Bus) SubscriberCount() int {
	return b.fragments.count() + b.completions.count() + b.failures.count() + b.controls.count()
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

type subscriberList[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

func (l *subscriberList[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.remove(id)
		})
	}
}

func (l *subscriberList[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *subscriberList[T]) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *subscriberList[T]) publish(category string, ev T) {
	l.mu.Lock()
	snapshot := make([]subscriber[T], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		dispatch(category, s.fn, ev)
	}
}

func dispatch[T any](category string, fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("component", "chatclient").Str("category", category).Msg("event listener panicked")
		}
	}()
	fn(ev)
}
