package notify

import (
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Model is an observable property map. It is the call target templates
// render against: Get announces a read and Set announces a write under the
// instance key "<id>.<property>".
type Model struct {
	id    string
	bus   *Bus
	props map[string]interface{}
	mutex sync.RWMutex
}

// NewModel creates a model on bus. An empty id gets a random one.
func NewModel(bus *Bus, id string, initial map[string]interface{}) *Model {
	if id == "" {
		id = uuid.NewString()
	}
	props := make(map[string]interface{}, len(initial))
	for k, v := range initial {
		props[k] = v
	}
	return &Model{id: id, bus: bus, props: props}
}

// ID returns the model id.
func (m *Model) ID() string { return m.id }

// Key returns the instance key of prop.
func (m *Model) Key(prop string) string { return m.id + "." + prop }

// Get returns the value of name and announces the read.
func (m *Model) Get(name string) interface{} {
	m.mutex.RLock()
	v := m.props[name]
	m.mutex.RUnlock()

	m.bus.Read(m.Key(name))
	return v
}

// Set stores value under name and announces the write. Setting an equal
// value is not a change.
func (m *Model) Set(name string, value interface{}) {
	m.mutex.Lock()
	old, ok := m.props[name]
	if ok && reflect.DeepEqual(old, value) {
		m.mutex.Unlock()
		return
	}
	m.props[name] = value
	m.mutex.Unlock()

	m.bus.Write(m.Key(name))
}

// Keys returns the property names, sorted.
func (m *Model) Keys() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.props))
	for k := range m.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the properties without announcing reads.
func (m *Model) Snapshot() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]interface{}, len(m.props))
	for k, v := range m.props {
		out[k] = v
	}
	return out
}
