package reconcile

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/loom/internal/dom"
)

// Snapshot is one render parsed into a detached tree. The rendered nodes
// hang under a synthetic root carrying the subject id.
type Snapshot struct {
	Root *html.Node
	ids  map[string]*html.Node
	dups []string
}

// NewSnapshot parses output as the content of an element like context.
func NewSnapshot(output, subject string, context *html.Node) (*Snapshot, error) {
	nodes, err := dom.ParseFragment(output, context)
	if err != nil {
		return nil, err
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	if context != nil {
		root.Data, root.DataAtom, root.Namespace = context.Data, context.DataAtom, context.Namespace
	}
	root.Attr = []html.Attribute{{Key: "id", Val: subject}}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	s := &Snapshot{Root: root, ids: make(map[string]*html.Node)}
	dom.Walk(root, func(n *html.Node) {
		id := dom.ID(n)
		if id == "" {
			return
		}
		if _, seen := s.ids[id]; seen {
			s.dups = append(s.dups, id)
			return
		}
		s.ids[id] = n
	})
	return s, nil
}

// ByID returns the element with id, or nil.
func (s *Snapshot) ByID(id string) *html.Node { return s.ids[id] }

// Duplicates returns ids carried by more than one element.
func (s *Snapshot) Duplicates() []string { return s.dups }

// Subject returns the subject id.
func (s *Snapshot) Subject() string { return dom.ID(s.Root) }

// HTML renders the snapshot content.
func (s *Snapshot) HTML() string { return dom.Inner(s.Root) }
