// Package notify is the notification layer templates render against.
// Property reads and writes on a Model are announced on the bus; the
// execution host tracks reads around each render and re-renders when a
// tracked key changes.
package notify

import (
	"sort"
	"sync"
)

// Channel names a broadcast channel.
type Channel string

const (
	// Access carries the key of every property read.
	Access Channel = "access"
	// Change carries the key of every property write.
	Change Channel = "change"
	// Output carries typed data announcements that satisfy inputs.
	Output Channel = "output"
)

// Message is one broadcast.
type Message struct {
	Channel Channel
	// Key is the instance key for access and change messages.
	Key string
	// Type and Value describe an output announcement.
	Type  string
	Value interface{}
}

// Bus fans messages out to subscribers. Subscribers run synchronously on
// the publishing goroutine.
type Bus struct {
	subs   map[Channel]map[int]func(Message)
	next   int
	mutex  sync.RWMutex
	render sync.Mutex

	trackMutex sync.Mutex
	tracker    *Tracker
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[Channel]map[int]func(Message))}
}

// Subscribe registers fn on ch and returns a func that removes it.
func (b *Bus) Subscribe(ch Channel, fn func(Message)) (unsubscribe func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.subs[ch] == nil {
		b.subs[ch] = make(map[int]func(Message))
	}
	id := b.next
	b.next++
	b.subs[ch][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			delete(b.subs[ch], id)
		})
	}
}

// Publish delivers msg to every subscriber of its channel in subscription
// order.
func (b *Bus) Publish(msg Message) {
	b.mutex.RLock()
	subs := b.subs[msg.Channel]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	b.mutex.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Read records key in the active tracking context and publishes it on the
// access channel.
func (b *Bus) Read(key string) {
	b.trackMutex.Lock()
	if b.tracker != nil {
		b.tracker.keys[key] = struct{}{}
	}
	b.trackMutex.Unlock()

	b.Publish(Message{Channel: Access, Key: key})
}

// Write publishes key on the change channel.
func (b *Bus) Write(key string) {
	b.Publish(Message{Channel: Change, Key: key})
}

// Announce publishes a typed value on the output channel.
func (b *Bus) Announce(typ string, value interface{}) {
	b.Publish(Message{Channel: Output, Type: typ, Value: value})
}

// Subscribers returns the number of subscribers on ch.
func (b *Bus) Subscribers(ch Channel) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subs[ch])
}

// Tracker is an explicit tracking context. Reads on the bus between Track
// and Stop are collected into its key set.
type Tracker struct {
	bus  *Bus
	keys map[string]struct{}
	once sync.Once
}

// Track starts a tracking context. Only one context is active per bus at a
// time; Track blocks until the previous one stops.
func (b *Bus) Track() *Tracker {
	b.render.Lock()

	t := &Tracker{bus: b, keys: make(map[string]struct{})}
	b.trackMutex.Lock()
	b.tracker = t
	b.trackMutex.Unlock()
	return t
}

// Stop ends the tracking context and returns the keys read during it.
func (t *Tracker) Stop() map[string]struct{} {
	t.once.Do(func() {
		t.bus.trackMutex.Lock()
		if t.bus.tracker == t {
			t.bus.tracker = nil
		}
		t.bus.trackMutex.Unlock()
		t.bus.render.Unlock()
	})
	return t.keys
}
