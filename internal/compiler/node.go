package compiler

// Mode is the transducer mode.
type Mode int

const (
	ModeScript Mode = iota
	ModeMarkup
	ModeTag
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeScript:
		return "script"
	case ModeMarkup:
		return "markup"
	case ModeTag:
		return "tag"
	default:
		return "unknown"
	}
}

// NodeKind tags an IR node.
type NodeKind int

const (
	// NodeScript is Go statement text passed through from script mode.
	NodeScript NodeKind = iota
	// NodeOpen starts a buffer-append statement.
	NodeOpen
	// NodeLiteral is literal markup.
	NodeLiteral
	// NodeInterpolate is an unescaped ${ expr }.
	NodeInterpolate
	// NodePoke is a #{ stmts } span lifted into a registered closure.
	NodePoke
	// NodeAttr emits one attribute from the bag; Consume removes it after.
	NodeAttr
	// NodeAllAttrs emits every attribute left in the bag.
	NodeAllAttrs
	// NodeClose ends the buffer-append statement.
	NodeClose
	// NodeTagOpen calls a pseudo-component with Bag as its attribute bag.
	NodeTagOpen
	// NodeTagClose ends a pseudo-component content callback.
	NodeTagClose
	// NodeResetAttrs replaces the attribute bag with a fresh one.
	NodeResetAttrs
)

var nodeKindNames = [...]string{
	NodeScript:      "script",
	NodeOpen:        "open",
	NodeLiteral:     "literal",
	NodeInterpolate: "interpolate",
	NodePoke:        "poke",
	NodeAttr:        "attr",
	NodeAllAttrs:    "all-attrs",
	NodeClose:       "close",
	NodeTagOpen:     "tag-open",
	NodeTagClose:    "tag-close",
	NodeResetAttrs:  "reset-attrs",
}

// String returns the node kind name.
func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return "unknown"
}

// Node is one IR element.
type Node struct {
	Kind        NodeKind
	Text        string
	Consume     bool
	SelfClosing bool
	Bag         []Node
	Line        int
}
