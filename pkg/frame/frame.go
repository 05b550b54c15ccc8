// Package frame is the runtime support linked into every compiled loom
// template. Generated render functions receive a *Frame and use it for
// the output accumulator, the attribute bag, import and input slots, poke
// registration and pseudo-component calls.
//
// The package is exported to the template interpreter under the import
// path "loom/frame" (see Symbols).
package frame

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Target is the call target a template renders against. Reads and writes
// go through it so the notification layer can observe them.
type Target interface {
	Get(name string) interface{}
	Set(name string, value interface{})
}

// Func is the calling convention of an imported function template.
type Func func(args ...interface{}) string

// Event is the snapshot of the triggering event captured synchronously
// when a poke invocation fires.
type Event struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Checked bool   `json:"checked"`
}

// Buffer accumulates rendered markup.
type Buffer struct {
	strings.Builder
}

// Options wires a Frame to its host.
type Options struct {
	Self      Target
	Imports   map[string]Func
	Input     func(name string) interface{}
	Register  func(fn func(Event)) string
	Tag       func(name string, bag Attrs, content string) (string, error)
	Signature string
	Attrs     Attrs
	Content   string
}

// Frame is the state of one render pass.
type Frame struct {
	opts Options
	out  *Buffer
	keys []string
}

// New creates a frame for one render.
func New(opts Options) *Frame {
	return &Frame{opts: opts, out: &Buffer{}}
}

// Output returns the output accumulator.
func (f *Frame) Output() *Buffer { return f.out }

// Self returns the call target.
func (f *Frame) Self() Target { return f.opts.Self }

// Attrs returns the initial attribute bag: a copy of the bag handed to a
// pseudo-component, or an empty bag.
func (f *Frame) Attrs() Attrs {
	a := make(Attrs, len(f.opts.Attrs))
	for k, v := range f.opts.Attrs {
		a[k] = v
	}
	return a
}

// NewAttrs returns a fresh, empty attribute bag.
func (f *Frame) NewAttrs() Attrs { return make(Attrs) }

// Content returns the rendered content handed to a pseudo-component.
func (f *Frame) Content() string { return f.opts.Content }

// Import returns the resolved import slot for name.
func (f *Frame) Import(name string) Func {
	if fn, ok := f.opts.Imports[name]; ok && fn != nil {
		return fn
	}
	return func(...interface{}) string {
		panic(fmt.Sprintf("import %q is not resolved", name))
	}
}

// Input returns the current value of a declared input.
func (f *Frame) Input(name string) interface{} {
	if f.opts.Input == nil {
		return nil
	}
	return f.opts.Input(name)
}

// Poke registers fn as an invokable and returns its key. Keys are created
// per render; the host revokes them when they leave the document.
func (f *Frame) Poke(fn func(Event)) string {
	if f.opts.Register == nil {
		panic("frame has no invokable registry")
	}
	key := f.opts.Register(fn)
	f.keys = append(f.keys, key)
	return key
}

// Keys returns every key registered during this render.
func (f *Frame) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Handler returns the invocation snippet that replaces a poke span in the
// rendered markup.
func (f *Frame) Handler(key string) string {
	return Snippet(key, f.opts.Signature)
}

// Tag renders a pseudo-component. bag is the JSON text of the attribute
// bag; content renders the element body.
func (f *Frame) Tag(name, bag string, content func(out *Buffer)) string {
	attrs := Attrs{}
	if strings.TrimSpace(bag) != "" {
		if err := json.Unmarshal([]byte(bag), &attrs); err != nil {
			panic(fmt.Errorf("tag %q: invalid attribute bag: %w", name, err))
		}
	}
	var body Buffer
	if content != nil {
		content(&body)
	}
	if f.opts.Tag == nil {
		panic(fmt.Sprintf("tag %q is not resolved", name))
	}
	html, err := f.opts.Tag(name, attrs, body.String())
	if err != nil {
		panic(err)
	}
	return html
}

// SnippetPrefix starts every invocation snippet; the key follows it.
const SnippetPrefix = "loom.invoke('"

// Snippet builds the client-side call that snapshots the triggering event
// and invokes key, carrying signature when the invocation must be relayed.
func Snippet(key, signature string) string {
	sig := "null"
	if signature != "" {
		sig = "'" + signature + "'"
	}
	return SnippetPrefix + key + "'," + sig + ",{type:event.type,value:this.value,checked:this.checked})"
}

// Attrs is an attribute bag.
type Attrs map[string]interface{}

// Emit renders name="value" if name is defined, else "".
func (a Attrs) Emit(name string) string {
	v, ok := a[name]
	if !ok {
		return ""
	}
	return attr(name, v)
}

// Take is Emit followed by removing name from the bag.
func (a Attrs) Take(name string) string {
	s := a.Emit(name)
	delete(a, name)
	return s
}

// All renders every attribute still in the bag, sorted by name.
func (a Attrs) All() string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if s := attr(name, a[name]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&#34;", `<`, "&lt;", `>`, "&gt;")

func attr(name string, v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if !x {
			return ""
		}
		return name
	}
	return name + `="` + attrEscaper.Replace(Str(v)) + `"`
}

// Str converts an interpolated value to text without escaping.
func Str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// JSON renders v as the inside of a JSON string literal, for values
// interpolated into a pseudo-component attribute bag.
func JSON(v interface{}) string {
	b, err := json.Marshal(Str(v))
	if err != nil {
		return ""
	}
	return string(b[1 : len(b)-1])
}

// List converts slices and arrays to []interface{} for ranging in
// templates. Other values yield nil.
func List(v interface{}) []interface{} {
	if l, ok := v.([]interface{}); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Int converts numeric values and numeric strings to int; anything else is 0.
func Int(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	}
	return 0
}
