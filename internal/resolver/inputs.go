package resolver

import (
	"sync"

	"github.com/conneroisu/loom/internal/instruction"
	"github.com/conneroisu/loom/internal/notify"
)

// Inputs holds the current values of a unit's declared inputs. Each input
// listens on the bus output channel for announcements of its type until it
// receives a value.
type Inputs struct {
	decls    []instruction.Declaration
	values   map[string]interface{}
	unsubs   map[string]func()
	onChange func(name string)
	mutex    sync.RWMutex
}

// NewInputs subscribes every input in decls to bus. onChange is called
// after each value update.
func NewInputs(bus *notify.Bus, decls []instruction.Declaration, onChange func(name string)) *Inputs {
	in := &Inputs{
		values:   make(map[string]interface{}),
		unsubs:   make(map[string]func()),
		onChange: onChange,
	}
	for _, d := range decls {
		d := d
		if d.Kind != instruction.KindInput {
			continue
		}
		in.decls = append(in.decls, d)
		if bus == nil || d.Type == "" {
			continue
		}
		in.mutex.Lock()
		in.unsubs[d.Name] = bus.Subscribe(notify.Output, func(m notify.Message) {
			if m.Type == d.Type {
				in.Set(d.Name, m.Value)
			}
		})
		in.mutex.Unlock()
	}
	return in
}

// Set stores value for name, ends its subscription and reports the change.
func (in *Inputs) Set(name string, value interface{}) {
	in.mutex.Lock()
	if !in.declared(name) {
		in.mutex.Unlock()
		return
	}
	in.values[name] = value
	unsub := in.unsubs[name]
	delete(in.unsubs, name)
	in.mutex.Unlock()

	if unsub != nil {
		unsub()
	}
	if in.onChange != nil {
		in.onChange(name)
	}
}

// Unset removes the value of name so a required input becomes
// unsatisfied again.
func (in *Inputs) Unset(name string) {
	in.mutex.Lock()
	_, had := in.values[name]
	delete(in.values, name)
	in.mutex.Unlock()

	if had && in.onChange != nil {
		in.onChange(name)
	}
}

// Get returns the current value of name, or nil.
func (in *Inputs) Get(name string) interface{} {
	in.mutex.RLock()
	defer in.mutex.RUnlock()
	return in.values[name]
}

// Satisfied reports whether every required input has a value.
func (in *Inputs) Satisfied() bool {
	in.mutex.RLock()
	defer in.mutex.RUnlock()
	for _, d := range in.decls {
		if _, ok := in.values[d.Name]; d.Required && !ok {
			return false
		}
	}
	return true
}

// Missing returns the names of required inputs without a value.
func (in *Inputs) Missing() []string {
	in.mutex.RLock()
	defer in.mutex.RUnlock()
	var out []string
	for _, d := range in.decls {
		if _, ok := in.values[d.Name]; d.Required && !ok {
			out = append(out, d.Name)
		}
	}
	return out
}

// Close ends every remaining subscription.
func (in *Inputs) Close() {
	in.mutex.Lock()
	unsubs := in.unsubs
	in.unsubs = make(map[string]func())
	in.mutex.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (in *Inputs) declared(name string) bool {
	for _, d := range in.decls {
		if d.Name == name {
			return true
		}
	}
	return false
}
