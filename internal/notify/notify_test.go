package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got []string
	unsubA := bus.Subscribe(Change, func(m Message) { got = append(got, "a:"+m.Key) })
	bus.Subscribe(Change, func(m Message) { got = append(got, "b:"+m.Key) })
	bus.Subscribe(Access, func(m Message) { got = append(got, "access:"+m.Key) })

	bus.Write("m.x")
	assert.Equal(t, []string{"a:m.x", "b:m.x"}, got)

	unsubA()
	unsubA()
	got = nil
	bus.Write("m.y")
	assert.Equal(t, []string{"b:m.y"}, got)
	assert.Equal(t, 1, bus.Subscribers(Change))
}

func TestTrackerCollectsReads(t *testing.T) {
	bus := NewBus()
	m := NewModel(bus, "todo", map[string]interface{}{"title": "x", "done": false})

	m.Get("ignored")

	tr := bus.Track()
	assert.Equal(t, "x", m.Get("title"))
	m.Get("title")
	m.Get("done")
	keys := tr.Stop()

	assert.Equal(t, map[string]struct{}{"todo.title": {}, "todo.done": {}}, keys)

	m.Get("after")
	assert.Len(t, tr.Stop(), 2, "stop is idempotent and the set is frozen")

	// A second context can start once the first stopped.
	next := bus.Track()
	assert.Empty(t, next.Stop())
}

func TestModelSetAnnouncesChanges(t *testing.T) {
	bus := NewBus()
	m := NewModel(bus, "", nil)
	require.NotEmpty(t, m.ID())

	var changes []string
	bus.Subscribe(Change, func(msg Message) { changes = append(changes, msg.Key) })

	m.Set("count", 1)
	m.Set("count", 1)
	m.Set("count", 2)
	m.Set("tags", []string{"a"})
	m.Set("tags", []string{"a"})

	want := []string{m.Key("count"), m.Key("count"), m.Key("tags")}
	assert.Equal(t, want, changes)
	assert.Equal(t, []string{"count", "tags"}, m.Keys())
	assert.Equal(t, 2, m.Snapshot()["count"])
}

func TestAnnounce(t *testing.T) {
	bus := NewBus()
	var got Message
	bus.Subscribe(Output, func(m Message) { got = m })

	bus.Announce("account.User", "ada")
	assert.Equal(t, Message{Channel: Output, Type: "account.User", Value: "ada"}, got)
}

func TestModelsOnOneBusHaveDistinctKeys(t *testing.T) {
	bus := NewBus()
	a := NewModel(bus, "", nil)
	b := NewModel(bus, "", nil)
	assert.NotEqual(t, a.Key("p"), b.Key("p"))
}
