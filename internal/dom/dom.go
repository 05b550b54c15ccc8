// Package dom is the live document the reconciler patches: an HTML node
// tree with element lookup by id, live form-control properties, input
// focus and cancelable update events.
package dom

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Selection is the caret or selection extent of a text field.
type Selection struct {
	Start int
	End   int
}

// Document is a live HTML document. Mutations are serialized; readers of
// Render and String may run concurrently with them.
type Document struct {
	root      *html.Node
	props     map[*html.Node]map[string]interface{}
	focused   *html.Node
	selection Selection
	listeners map[string]map[int]Handler
	next      int
	mutex     sync.RWMutex
}

// New parses markup as a complete HTML document.
func New(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Parse reads a complete HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{
		root:      root,
		props:     make(map[*html.Node]map[string]interface{}),
		listeners: make(map[string]map[int]Handler),
	}, nil
}

// ParseFragment parses markup as the children of an element like context.
// A nil context parses as body content.
func ParseFragment(markup string, context *html.Node) ([]*html.Node, error) {
	if context == nil {
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	return html.ParseFragment(strings.NewReader(markup), context)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element.
func (d *Document) Body() *html.Node {
	return Find(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}

// ByID returns the first element with the given id, or nil.
func (d *Document) ByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Find(d.root, func(n *html.Node) bool { return ID(n) == id })
}

// Contains reports whether n is attached to the document.
func (d *Document) Contains(n *html.Node) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Within(n, d.root)
}

// SetAttr sets a markup attribute.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr removes a markup attribute.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key || a.Namespace != "" {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

// SetProp sets a live property. Live properties shadow the markup
// attribute of the same name, as form controls do.
func (d *Document) SetProp(n *html.Node, name string, v interface{}) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.props[n] == nil {
		d.props[n] = make(map[string]interface{})
	}
	d.props[n][name] = v
}

// Prop returns the live property name of n. Without a live value, checked
// and value fall back to the markup.
func (d *Document) Prop(n *html.Node, name string) interface{} {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if v, ok := d.props[n][name]; ok {
		return v
	}
	switch name {
	case "checked":
		_, ok := Attr(n, "checked")
		return ok
	case "value":
		if n.DataAtom == atom.Textarea {
			return Text(n)
		}
		v, _ := Attr(n, "value")
		return v
	}
	return nil
}

// Focus gives n input focus with an empty selection at the start.
func (d *Document) Focus(n *html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.focused = n
	d.selection = Selection{}
}

// Blur removes input focus.
func (d *Document) Blur() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.focused = nil
	d.selection = Selection{}
}

// Focused returns the element with input focus, or nil.
func (d *Document) Focused() *html.Node {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.focused
}

// SetSelection sets the selection extent of the focused field.
func (d *Document) SetSelection(s Selection) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.selection = s
}

// Selection returns the selection extent of the focused field.
func (d *Document) Selection() Selection {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.selection
}

// Replace puts next where old is. old leaves the document.
func (d *Document) Replace(old, next *html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	old.Parent.InsertBefore(next, old)
	d.detach(old)
}

// InsertBefore inserts child into parent before ref; a nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	parent.InsertBefore(child, ref)
}

// Remove detaches n from the document.
func (d *Document) Remove(n *html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.detach(n)
}

// ReplaceChildren swaps the children of n for children.
func (d *Document) ReplaceChildren(n *html.Node, children []*html.Node) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		d.detach(c)
		c = next
	}
	for _, c := range children {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.AppendChild(c)
	}
}

// detach removes n and forgets the state of its subtree.
func (d *Document) detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	Walk(n, func(c *html.Node) {
		delete(d.props, c)
		if c == d.focused {
			d.focused = nil
			d.selection = Selection{}
		}
	})
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return html.Render(w, d.root)
}

// String renders the document.
func (d *Document) String() string {
	var b bytes.Buffer
	_ = d.Render(&b)
	return b.String()
}

// Outer renders n and its subtree.
func (d *Document) Outer(n *html.Node) string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Outer(n)
}

// Inner renders the children of n.
func (d *Document) Inner(n *html.Node) string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Inner(n)
}
