package reconcile

import (
	"slices"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/pkg/frame"
)

// opaque elements keep their children out of the diff; they are only ever
// replaced as a whole.
var opaque = map[atom.Atom]bool{atom.Textarea: true}

// Diff walks previous and next in step from the subject root and returns
// the records that survive Hard filtering, in walk order.
func Diff(previous, next *Snapshot) []Record {
	w := &walker{collector: NewCollector(), previous: previous}
	w.content(previous.Root, next.Root, []string{previous.Subject()}, true)
	return complete(w.collector.Records(), next)
}

// complete fills the payload of Hard records from the new snapshot.
func complete(records []Record, next *Snapshot) []Record {
	subject := next.Subject()
	for i := range records {
		r := &records[i]
		if r.Kind != Hard {
			continue
		}
		n := next.ByID(r.Target)
		if r.Target == subject {
			n = next.Root
		}
		if n == nil {
			continue
		}
		r.Node = n
		r.HTML = dom.Inner(n)
		if r.Target != subject {
			r.Set = attrMap(n.Attr)
		}
	}
	return records
}

type walker struct {
	collector *Collector
	previous  *Snapshot
}

// hard records a Hard update at the innermost id of path.
func (w *walker) hard(path []string) {
	w.collector.Add(Record{Kind: Hard, Target: path[len(path)-1], Ancestors: slices.Clone(path)})
}

// node compares two nodes at the same position. path ends with the
// nearest identified ancestor. It reports whether a Hard record landed on
// that ancestor, in which case the caller stops comparing its children.
func (w *walker) node(o, n *html.Node, path []string) bool {
	if o.Type != n.Type {
		w.hard(path)
		return true
	}
	switch n.Type {
	case html.TextNode, html.CommentNode:
		if o.Data != n.Data {
			w.hard(path)
			return true
		}
		return false
	case html.ElementNode:
	default:
		return false
	}

	if o.Data != n.Data || o.Namespace != n.Namespace {
		w.hard(path)
		return true
	}

	oid, nid := dom.ID(o), dom.ID(n)
	identified := nid != "" && oid == nid
	set, unset, rebinds := diffAttrs(o.Attr, n.Attr)
	if !identified && (len(set) > 0 || len(unset) > 0) {
		w.hard(path)
		return true
	}

	scope := path
	if identified {
		scope = with(path, nid)
	}
	for _, r := range rebinds {
		r.Target = scope[len(scope)-1]
		r.Ancestors = slices.Clone(scope)
		w.collector.Add(r)
	}
	if len(set) > 0 || len(unset) > 0 {
		w.collector.Add(Record{Kind: Attributes, Target: nid, Ancestors: slices.Clone(scope), Set: set, Unset: unset})
	}

	hard := w.content(o, n, scope, identified)
	return hard && !identified
}

// content compares the children of two matching elements. path ends with
// the id Hard records land on: the elements' own id when identified.
func (w *walker) content(o, n *html.Node, path []string, identified bool) bool {
	if opaque[n.DataAtom] {
		if dom.Inner(o) != dom.Inner(n) {
			w.hard(path)
			return true
		}
		return false
	}

	oc, nc := children(o), children(n)
	if identified && softCandidate(oc) && softCandidate(nc) {
		return w.soft(oc, nc, path)
	}
	if len(oc) != len(nc) {
		w.hard(path)
		return true
	}
	for i := range oc {
		if w.node(oc[i], nc[i], path) {
			return true
		}
	}
	return false
}

// soft patches a child list of identified elements without replacing the
// parent. Carried-over children must keep their relative order; live
// children are never moved.
func (w *walker) soft(oc, nc []*html.Node, path []string) bool {
	oldIDs, oldNodes := idIndex(oc)
	newIDs, newNodes := idIndex(nc)
	if len(oldNodes) != len(oldIDs) || len(newNodes) != len(newIDs) {
		// Duplicate ids among siblings.
		w.hard(path)
		return true
	}

	var carriedOld, carriedNew []string
	for _, id := range oldIDs {
		if newNodes[id] != nil {
			carriedOld = append(carriedOld, id)
		}
	}
	for _, id := range newIDs {
		if oldNodes[id] != nil {
			carriedNew = append(carriedNew, id)
		} else if w.previous.ByID(id) != nil {
			// Moved in from elsewhere in the tree.
			w.hard(path)
			return true
		}
	}
	if !slices.Equal(carriedOld, carriedNew) {
		w.hard(path)
		return true
	}

	parent := path[len(path)-1]
	for _, id := range oldIDs {
		if newNodes[id] == nil {
			w.collector.Add(Record{Kind: Remove, Target: id, Parent: parent, Ancestors: with(path, id)})
		}
	}
	for i, id := range newIDs {
		if oldNodes[id] != nil {
			continue
		}
		n := newNodes[id]
		r := Record{Kind: Append, Target: id, Parent: parent, Ancestors: with(path, id), HTML: dom.Outer(n), Node: n}
		for _, next := range newIDs[i+1:] {
			if oldNodes[next] != nil {
				r.Kind, r.Before = Insert, next
				break
			}
		}
		w.collector.Add(r)
	}

	for _, id := range carriedNew {
		if w.node(oldNodes[id], newNodes[id], path) {
			return true
		}
	}
	return false
}

// softCandidate reports whether every node is an identified element or
// whitespace.
func softCandidate(nodes []*html.Node) bool {
	for _, n := range nodes {
		switch {
		case n.Type == html.ElementNode && dom.ID(n) != "":
		case n.Type == html.TextNode && strings.TrimSpace(n.Data) == "":
		default:
			return false
		}
	}
	return true
}

func idIndex(nodes []*html.Node) ([]string, map[string]*html.Node) {
	var ids []string
	byID := make(map[string]*html.Node)
	for _, n := range nodes {
		if id := dom.ID(n); id != "" {
			ids = append(ids, id)
			byID[id] = n
		}
	}
	return ids, byID
}

// diffAttrs compares attribute lists. Changes that only swap invokable
// keys become FunctionRebind records; the rest are returned as set and
// unset.
func diffAttrs(old, next []html.Attribute) (set map[string]string, unset []string, rebinds []Record) {
	om, nm := attrMap(old), attrMap(next)

	for _, k := range sortedKeys(nm) {
		nv := nm[k]
		ov, ok := om[k]
		if ok && ov == nv {
			continue
		}
		if ok {
			if r, ok := rebind(k, ov, nv); ok {
				rebinds = append(rebinds, r)
				continue
			}
		}
		if set == nil {
			set = make(map[string]string)
		}
		set[k] = nv
	}
	for _, k := range sortedKeys(om) {
		if _, ok := nm[k]; !ok {
			unset = append(unset, k)
		}
	}
	return set, unset, rebinds
}

// rebind reports whether next is old with its invokable keys swapped.
func rebind(attr, old, next string) (Record, bool) {
	oldKeys, newKeys := invoke.Keys(old), invoke.Keys(next)
	if len(oldKeys) == 0 || len(oldKeys) != len(newKeys) {
		return Record{}, false
	}
	swapped := old
	for i := range oldKeys {
		swapped = strings.Replace(swapped,
			frame.SnippetPrefix+oldKeys[i]+"'", frame.SnippetPrefix+newKeys[i]+"'", 1)
	}
	if swapped != next {
		return Record{}, false
	}
	return Record{Kind: FunctionRebind, Attr: attr, OldKey: oldKeys[0], NewKey: newKeys[0], Value: next}, true
}

func attrMap(attrs []html.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Namespace == "" {
			m[a.Key] = a.Val
		}
	}
	return m
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func with(path []string, id string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = id
	return out
}
