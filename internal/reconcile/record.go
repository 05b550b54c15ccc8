// Package reconcile applies each render of a template to a live document
// with minimal mutation. A Manager parses every render into a detached
// snapshot, diffs it against the previous snapshot of the same subject and
// applies the surviving update records.
package reconcile

import (
	"fmt"

	"golang.org/x/net/html"
)

// Kind is the kind of an update record.
type Kind int

const (
	// Hard replaces the content of the target, and its attributes unless
	// the target is the subject root.
	Hard Kind = iota
	// Attributes sets and removes attributes of the target.
	Attributes
	// Insert puts a new element before an existing sibling.
	Insert
	// Append adds a new element as the last child of its parent.
	Append
	// Remove detaches the target.
	Remove
	// FunctionRebind swaps the invokable key embedded in one attribute.
	FunctionRebind
)

var kindNames = [...]string{"hard", "attributes", "insert", "append", "remove", "rebind"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown record kind %q", text)
}

// Record is one update. Target is the id of the element the update is
// applied to: the replaced element for Hard, the new element for Insert and
// Append, and the nearest identified ancestor of the rebound attribute for
// FunctionRebind. Ancestors holds every identified id on the path from the
// subject root down to Target, Target included.
type Record struct {
	Kind      Kind     `json:"kind"`
	Target    string   `json:"target"`
	Ancestors []string `json:"ancestors,omitempty"`

	// HTML is the new inner markup for Hard and the new element for
	// Insert and Append.
	HTML string `json:"html,omitempty"`
	// Parent is the id of the parent for Insert and Append.
	Parent string `json:"parent,omitempty"`
	// Before is the id of the sibling an Insert goes in front of.
	Before string `json:"before,omitempty"`
	// Set and Unset are the attribute changes of an Attributes record,
	// and the full attribute set of a Hard record below the root.
	Set   map[string]string `json:"set,omitempty"`
	Unset []string          `json:"unset,omitempty"`
	// Attr, OldKey, NewKey and Value describe a FunctionRebind.
	Attr   string `json:"attr,omitempty"`
	OldKey string `json:"oldKey,omitempty"`
	NewKey string `json:"newKey,omitempty"`
	Value  string `json:"value,omitempty"`

	// Node is the new element for Hard, Insert and Append.
	Node *html.Node `json:"-"`
}

func (r Record) String() string {
	switch r.Kind {
	case Insert:
		return fmt.Sprintf("insert #%s before #%s", r.Target, r.Before)
	case Append:
		return fmt.Sprintf("append #%s to #%s", r.Target, r.Parent)
	case FunctionRebind:
		return fmt.Sprintf("rebind %s %s -> %s in #%s", r.Attr, r.OldKey, r.NewKey, r.Target)
	}
	return fmt.Sprintf("%s #%s", r.Kind, r.Target)
}

// Collector gathers the records of one walk. Records are collected
// speculatively; Records drops every record that a Hard record on one of
// its ancestors subsumes. That includes Hard records nested inside another
// Hard target: the outer replacement already writes their content, so
// applying them again would only repeat the update notifications.
type Collector struct {
	records []Record
	hard    map[string]bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{hard: make(map[string]bool)}
}

// Add collects r. Repeated Hard records for one target collapse.
func (c *Collector) Add(r Record) {
	if r.Kind == Hard {
		if c.hard[r.Target] {
			return
		}
		c.hard[r.Target] = true
	}
	c.records = append(c.records, r)
}

// HardTargets returns the number of distinct Hard targets.
func (c *Collector) HardTargets() int { return len(c.hard) }

// Records returns the surviving records in collection order.
func (c *Collector) Records() []Record {
	out := make([]Record, 0, len(c.records))
	for _, r := range c.records {
		if !c.subsumed(r) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Collector) subsumed(r Record) bool {
	for _, id := range r.Ancestors {
		if r.Kind == Hard && id == r.Target {
			continue
		}
		if c.hard[id] {
			return true
		}
	}
	return false
}
