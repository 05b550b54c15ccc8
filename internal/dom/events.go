package dom

import (
	"sort"

	"golang.org/x/net/html"
)

// Event names dispatched by the reconciler around each update.
const (
	BeforeUpdate = "beforeupdate"
	Updated      = "updated"
)

// Event is dispatched to listeners of its type.
type Event struct {
	Type   string
	Target *html.Node
	// Detail describes the update for reconciler events.
	Detail   interface{}
	canceled bool
}

// Cancel marks the event canceled. Only the dispatcher decides what a
// canceled event prevents.
func (e *Event) Cancel() { e.canceled = true }

// Canceled reports whether a listener canceled the event.
func (e *Event) Canceled() bool { return e.canceled }

// Handler receives dispatched events.
type Handler func(*Event)

// On registers fn for events of type typ and returns a func removing it.
func (d *Document) On(typ string, fn Handler) (off func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.listeners[typ] == nil {
		d.listeners[typ] = make(map[int]Handler)
	}
	id := d.next
	d.next++
	d.listeners[typ][id] = fn

	return func() {
		d.mutex.Lock()
		defer d.mutex.Unlock()
		delete(d.listeners[typ], id)
	}
}

// Dispatch delivers ev to its listeners in registration order and reports
// whether it was not canceled. Listeners run without the document lock
// held and may mutate the document.
func (d *Document) Dispatch(ev *Event) bool {
	d.mutex.RLock()
	subs := d.listeners[ev.Type]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	fns := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	d.mutex.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return !ev.canceled
}
