package compiler

import (
	"strconv"
	"strings"
)

// Names the generated body relies on. The assembler's prologue declares
// them; template code must not redeclare them.
const (
	FrameVar  = "f"
	OutputVar = "out"
	AttrsVar  = "attrs"
)

const pokePrefix = "loomPoke"

// Emit renders IR nodes as a Go function body ending in the final return.
func Emit(nodes []Node) string {
	e := &emitter{}
	for _, n := range nodes {
		e.node(n)
	}
	e.b.WriteString("return " + OutputVar + ".String()\n")
	return e.b.String()
}

type emitter struct {
	b     strings.Builder
	open  bool
	lit   strings.Builder
	parts []string
	pokes []string
	seq   int
}

func (e *emitter) node(n Node) {
	switch n.Kind {
	case NodeScript:
		e.b.WriteString(n.Text)
	case NodeResetAttrs:
		e.b.WriteString(AttrsVar + " = " + FrameVar + ".NewAttrs()")
	case NodeOpen:
		e.open = true
	case NodeClose:
		e.flush()
		e.hoist()
		e.b.WriteString(OutputVar + ".WriteString(" + e.concat() + ")\n")
		e.open = false
	case NodeLiteral:
		e.lit.WriteString(n.Text)
	case NodeInterpolate:
		e.expr("frame.Str(" + n.Text + ")")
	case NodePoke:
		e.expr(FrameVar + ".Handler(" + e.poke(n.Text) + ")")
	case NodeAttr:
		if !e.open {
			e.b.WriteString(AttrsVar + "[" + strconv.Quote(n.Text) + "]")
			return
		}
		method := "Emit"
		if n.Consume {
			method = "Take"
		}
		e.expr(AttrsVar + "." + method + "(" + strconv.Quote(n.Text) + ")")
	case NodeAllAttrs:
		e.expr(AttrsVar + ".All()")
	case NodeTagOpen:
		e.tag(n)
	case NodeTagClose:
		e.b.WriteString("}))\n")
	}
}

func (e *emitter) tag(n Node) {
	for _, b := range n.Bag {
		switch b.Kind {
		case NodeLiteral:
			e.lit.WriteString(b.Text)
		case NodeInterpolate:
			e.expr("frame.JSON(" + b.Text + ")")
		case NodePoke:
			e.expr(FrameVar + ".Handler(" + e.poke(b.Text) + ")")
		}
	}
	e.flush()
	e.hoist()

	e.b.WriteString(OutputVar + ".WriteString(" + FrameVar + ".Tag(" + strconv.Quote(n.Text) + ", " + e.concat() + ", ")
	if n.SelfClosing {
		e.b.WriteString("nil))\n")
		return
	}
	e.b.WriteString("func(" + OutputVar + " *frame.Buffer) {\n")
}

// poke queues a closure definition for the handler statements and returns
// the variable holding its key.
func (e *emitter) poke(stmts string) string {
	e.seq++
	name := pokePrefix + strconv.Itoa(e.seq)
	e.pokes = append(e.pokes,
		name+" := "+FrameVar+".Poke(func(event frame.Event) {\n"+stmts+"\n})\n")
	return name
}

func (e *emitter) expr(x string) {
	e.flush()
	e.parts = append(e.parts, x)
}

// flush moves pending literal text into the concatenation.
func (e *emitter) flush() {
	if e.lit.Len() == 0 {
		return
	}
	e.parts = append(e.parts, strconv.Quote(e.lit.String()))
	e.lit.Reset()
}

// hoist writes queued closures ahead of the statement that uses them.
func (e *emitter) hoist() {
	for _, p := range e.pokes {
		e.b.WriteString(p)
	}
	e.pokes = e.pokes[:0]
}

func (e *emitter) concat() string {
	if len(e.parts) == 0 {
		return `""`
	}
	s := strings.Join(e.parts, " + ")
	e.parts = e.parts[:0]
	return s
}
