package reconcile

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/pkg/frame"
)

// apply runs a batch against the live subject. A record whose target is
// gone is logged and skipped; the rest of the batch still runs. Input focus
// inside the subject survives the batch when its element does.
func (m *Manager) apply(ctx context.Context, records []Record) error {
	focus := m.captureFocus()
	collector := errors.NewErrorCollector()

	applied := make([]Record, 0, len(records))
	for _, r := range records {
		done, err := m.applyRecord(r)
		if err != nil {
			m.logger.Warn(ctx, err, "Skipping update", "record", r.String())
			collector.Add(err)
			continue
		}
		if done {
			applied = append(applied, r)
		}
	}

	m.restoreFocus(focus)
	if m.onRecords != nil && len(applied) > 0 {
		m.onRecords(applied)
	}
	return collector.Err()
}

// applyRecord dispatches the cancelable beforeupdate event, applies r and
// dispatches updated. It reports whether r was applied.
func (m *Manager) applyRecord(r Record) (bool, error) {
	targetID := r.Target
	if r.Kind == Insert || r.Kind == Append {
		targetID = r.Parent
	}
	target, err := m.lookup(targetID)
	if err != nil {
		return false, err
	}

	if !m.doc.Dispatch(&dom.Event{Type: dom.BeforeUpdate, Target: target, Detail: r}) {
		m.logger.Debug(context.Background(), "Update canceled", "record", r.String())
		return false, nil
	}

	switch r.Kind {
	case Hard:
		err = m.hard(target, r)
	case Attributes:
		for _, k := range sortedKeys(r.Set) {
			m.setAttr(target, k, r.Set[k])
		}
		for _, k := range r.Unset {
			m.unsetAttr(target, k)
		}
	case Insert:
		err = m.insert(target, r)
	case Append:
		m.doc.InsertBefore(target, dom.Clone(r.Node), nil)
	case Remove:
		m.revokeSubtree(target, nil)
		m.doc.Remove(target)
	case FunctionRebind:
		err = m.rebind(target, r)
	default:
		err = errors.NewInternalError(errors.ErrCodeInternalError, fmt.Sprintf("unknown record kind %d", int(r.Kind)), nil)
	}
	if err != nil {
		return false, err
	}

	m.doc.Dispatch(&dom.Event{Type: dom.Updated, Target: target, Detail: r})
	return true, nil
}

func (m *Manager) hard(el *html.Node, r Record) error {
	if r.Node == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError,
			fmt.Sprintf("hard update of #%s has no content", r.Target), nil)
	}

	keep := subtreeKeys(r.Node)
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		m.revokeSubtree(c, keep)
	}
	var kids []*html.Node
	for c := r.Node.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, dom.Clone(c))
	}
	m.doc.ReplaceChildren(el, kids)

	if el != m.node {
		for _, a := range append([]html.Attribute(nil), el.Attr...) {
			if _, keep := r.Set[a.Key]; !keep && a.Namespace == "" {
				m.unsetAttr(el, a.Key)
			}
		}
		for _, k := range sortedKeys(r.Set) {
			m.setAttr(el, k, r.Set[k])
		}
	}
	if el.DataAtom == atom.Textarea {
		m.doc.SetProp(el, "value", dom.Text(el))
	}
	return nil
}

func (m *Manager) insert(parent *html.Node, r Record) error {
	ref, err := m.lookup(r.Before)
	if err != nil {
		return err
	}
	if ref.Parent != parent {
		return errors.NewReconcileError(errors.ErrCodeTargetNotFound,
			fmt.Sprintf("#%s is not a child of #%s", r.Before, r.Parent))
	}
	m.doc.InsertBefore(parent, dom.Clone(r.Node), ref)
	return nil
}

func (m *Manager) rebind(scope *html.Node, r Record) error {
	needle := frame.SnippetPrefix + r.OldKey + "'"
	el := dom.Find(scope, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := dom.Attr(n, r.Attr)
		return ok && strings.Contains(v, needle)
	})
	if el == nil {
		return errors.NewReconcileError(errors.ErrCodeSelector,
			fmt.Sprintf("no %s attribute under #%s holds invokable %s", r.Attr, r.Target, r.OldKey))
	}
	m.setAttr(el, r.Attr, r.Value)
	return nil
}

// setAttr writes a markup attribute, mirrors form state into the live
// property and revokes keys the old value held.
func (m *Manager) setAttr(el *html.Node, key, val string) {
	old, _ := dom.Attr(el, key)
	m.revokeStale(old, val)
	m.doc.SetAttr(el, key, val)
	if liveProp(el, key) {
		if key == "checked" {
			m.doc.SetProp(el, key, true)
		} else {
			m.doc.SetProp(el, key, val)
		}
	}
}

func (m *Manager) unsetAttr(el *html.Node, key string) {
	old, _ := dom.Attr(el, key)
	m.revokeStale(old, "")
	m.doc.RemoveAttr(el, key)
	if liveProp(el, key) {
		if key == "checked" {
			m.doc.SetProp(el, key, false)
		} else {
			m.doc.SetProp(el, key, "")
		}
	}
}

func liveProp(el *html.Node, key string) bool {
	if key != "checked" && key != "value" {
		return false
	}
	switch el.DataAtom {
	case atom.Input, atom.Textarea, atom.Select, atom.Option:
		return true
	}
	return false
}

// revokeStale revokes the keys in old that next no longer holds.
func (m *Manager) revokeStale(old, next string) {
	if m.revoker == nil || old == "" {
		return
	}
	keep := make(map[string]bool)
	for _, k := range invoke.Keys(next) {
		keep[k] = true
	}
	for _, k := range invoke.Keys(old) {
		if !keep[k] {
			m.revoker.Revoke(k)
		}
	}
}

// revokeSubtree revokes every key held by attributes at or below n that
// keep does not hold.
func (m *Manager) revokeSubtree(n *html.Node, keep map[string]bool) {
	if m.revoker == nil {
		return
	}
	for k := range subtreeKeys(n) {
		if !keep[k] {
			m.revoker.Revoke(k)
		}
	}
}

func subtreeKeys(n *html.Node) map[string]bool {
	keys := make(map[string]bool)
	dom.Walk(n, func(c *html.Node) {
		for _, a := range c.Attr {
			for _, k := range invoke.Keys(a.Val) {
				keys[k] = true
			}
		}
	})
	return keys
}

type focusState struct {
	ok     bool
	anchor string
	path   []int
	sel    dom.Selection
}

// captureFocus records the focused field inside the subject as its
// nearest identified ancestor plus the child path below it.
func (m *Manager) captureFocus() focusState {
	f := m.doc.Focused()
	if f == nil || !dom.Within(f, m.node) {
		return focusState{}
	}
	anchor := f
	for anchor != m.node && dom.ID(anchor) == "" {
		anchor = anchor.Parent
	}
	id := m.subject
	if anchor != m.node {
		id = dom.ID(anchor)
	}
	return focusState{ok: true, anchor: id, path: dom.Path(f, anchor), sel: m.doc.Selection()}
}

func (m *Manager) restoreFocus(s focusState) {
	if !s.ok {
		return
	}
	anchor, err := m.lookup(s.anchor)
	if err != nil {
		return
	}
	n := dom.At(anchor, s.path)
	if n == nil || n.Type != html.ElementNode {
		return
	}
	m.doc.Focus(n)
	if textField(n) {
		m.doc.SetSelection(s.sel)
	}
}

func textField(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Textarea:
		return true
	case atom.Input:
		typ, _ := dom.Attr(n, "type")
		switch strings.ToLower(typ) {
		case "", "text", "search", "url", "tel", "password", "email":
			return true
		}
	}
	return false
}
