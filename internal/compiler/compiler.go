// Package compiler turns cleaned loom template text into the body of a Go
// render function.
//
// Templates are processed line by line. Lines starting with '<' are markup
// and accumulate into an output statement; every other line is a Go
// statement passed through unchanged. Markup supports ${ expr }
// interpolation, #{ stmts } event handlers, the @ attribute helpers and
// '+' line continuation. Lines of the form <:name {bag}> ... </:name> call
// a pseudo-component.
package compiler

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/conneroisu/loom/internal/errors"
)

// Program is the result of compiling one template.
type Program struct {
	// Nodes is the IR in source order.
	Nodes []Node
	// Body is the generated Go function body, ending in the final return.
	Body string
}

type openTag struct {
	name string
	line int
	col  int
}

type compilation struct {
	st    state
	nodes []Node
	tags  []openTag
}

// Compile compiles cleaned template text. Compiling the same text twice
// yields the same program; invocation keys are created at render time.
func Compile(text string) (*Program, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	c := &compilation{}
	for i, raw := range lines {
		nextPlus := i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "+")
		if err := c.line(raw, i+1, nextPlus); err != nil {
			return nil, err
		}
	}
	if err := c.finish(len(lines)); err != nil {
		return nil, err
	}

	return &Program{Nodes: c.nodes, Body: Emit(c.nodes)}, nil
}

func (c *compilation) line(raw string, lineNo int, nextPlus bool) error {
	text := strings.TrimSpace(raw)
	col := 1
	if text != "" {
		col = strings.Index(raw, text) + 1
	}

	if c.st.mode != ModeMarkup {
		switch {
		case c.st.quote != 0:
			// A raw string literal spans the line break.
			return c.script(raw, lineNo, 1)
		case strings.HasPrefix(text, "</:"):
			return c.closeTag(text, lineNo, col)
		case strings.HasPrefix(text, "<:"):
			return c.openTag(text, lineNo, col)
		case strings.HasPrefix(text, "<"):
			c.st.mode = ModeMarkup
			c.nodes = append(c.nodes, Node{Kind: NodeOpen, Line: lineNo})
		case text == "":
			return nil
		default:
			return c.script(text, lineNo, col)
		}
	} else if c.st.span == spanNone && strings.HasPrefix(text, "+") {
		trimmed := strings.TrimLeft(text[1:], " \t")
		col += len(text) - len(trimmed)
		text = trimmed
	}

	return c.markup(text, lineNo, col, nextPlus)
}

func (c *compilation) script(text string, lineNo, col int) error {
	st, nodes, err := run(scriptStep, c.st, NewCursor(text, lineNo, col))
	if err != nil {
		return err
	}
	quoted := c.st.quote != 0
	c.st = st
	c.nodes = append(c.nodes, nodes...)
	c.nodes = append(c.nodes, Node{Kind: NodeScript, Text: "\n", Line: lineNo})

	// Handlers created in a loop body capture the variables of their own
	// iteration.
	if !quoted && st.quote == 0 {
		for _, name := range loopVars(text) {
			c.nodes = append(c.nodes, Node{Kind: NodeScript, Text: name + " := " + name + "; _ = " + name + "\n", Line: lineNo})
		}
	}
	return nil
}

// loopVars returns the variables a "for ... := ... {" header declares.
func loopVars(line string) []string {
	if !strings.HasPrefix(line, "for ") || !strings.HasSuffix(line, "{") {
		return nil
	}
	head, _, ok := strings.Cut(line[len("for "):], ":=")
	if !ok {
		return nil
	}
	var names []string
	for _, name := range strings.Split(head, ",") {
		name = strings.TrimSpace(name)
		if name == "_" || !token.IsIdentifier(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (c *compilation) markup(text string, lineNo, col int, nextPlus bool) error {
	var (
		st       state
		nodes    []Node
		err      error
		trailing bool
	)
	if strings.HasSuffix(text, "+") {
		// The marker is only a continuation when it is outside any span.
		head := strings.TrimRight(text[:len(text)-1], " \t")
		st, nodes, err = run(markupStep, c.st, NewCursor(head, lineNo, col))
		trailing = err == nil && st.span == spanNone
	}
	if !trailing {
		st, nodes, err = run(markupStep, c.st, NewCursor(text, lineNo, col))
		if err != nil {
			return err
		}
	}

	c.st = st
	c.nodes = append(c.nodes, nodes...)

	switch {
	case c.st.span != spanNone:
		c.st.text += "\n"
	case trailing || nextPlus:
	default:
		c.nodes = append(c.nodes, Node{Kind: NodeClose, Line: lineNo})
		c.st.mode = ModeScript
	}
	return nil
}

// openTag handles "<:name {bag}>" and the self-closing "<:name {bag}/>".
func (c *compilation) openTag(text string, lineNo, col int) error {
	cur := NewCursor(text, lineNo, col).Advance(2)
	n := cur.identLen(0)
	if n == 0 {
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			"tag marker must name a component", lineNo, col)
	}
	name := cur.Rest()[:n]

	rest := strings.TrimSpace(cur.Rest()[n:])
	selfClosing := strings.HasSuffix(rest, "/>")
	switch {
	case selfClosing:
		rest = rest[:len(rest)-2]
	case strings.HasSuffix(rest, ">"):
		rest = rest[:len(rest)-1]
	default:
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("tag marker <:%s is not closed with '>'", name), lineNo, col)
	}
	bagText := strings.TrimSpace(rest)
	bagCol := col
	if bagText != "" {
		bagCol += strings.Index(text, bagText)
	}

	st, bag, err := run(tagStep, state{mode: ModeTag}, NewCursor(bagText, lineNo, bagCol))
	if err != nil {
		return err
	}
	if st.span != spanNone {
		return errors.NewCompileError(errors.ErrCodeUnterminatedSpan,
			"unterminated span in tag attribute bag", st.line, st.col)
	}

	c.nodes = append(c.nodes, Node{Kind: NodeTagOpen, Text: name, Bag: bag, SelfClosing: selfClosing, Line: lineNo})
	if !selfClosing {
		c.tags = append(c.tags, openTag{name: name, line: lineNo, col: col})
	}
	return nil
}

func (c *compilation) closeTag(text string, lineNo, col int) error {
	cur := NewCursor(text, lineNo, col).Advance(3)
	n := cur.identLen(0)
	name := cur.Rest()[:n]
	if n == 0 || cur.Rest()[n:] != ">" {
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("malformed closing tag marker %q", text), lineNo, col)
	}
	if len(c.tags) == 0 {
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("closing </:%s> without an open tag", name), lineNo, col)
	}
	top := c.tags[len(c.tags)-1]
	if top.name != name {
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("closing </:%s> does not match <:%s> on line %d", name, top.name, top.line), lineNo, col)
	}
	c.tags = c.tags[:len(c.tags)-1]
	c.nodes = append(c.nodes, Node{Kind: NodeTagClose, Text: name, Line: lineNo})
	return nil
}

func (c *compilation) finish(lastLine int) error {
	if c.st.span != spanNone {
		return errors.NewCompileError(errors.ErrCodeUnterminatedSpan,
			"span is not closed before end of input", c.st.line, c.st.col)
	}
	if c.st.mode == ModeMarkup {
		c.nodes = append(c.nodes, Node{Kind: NodeClose, Line: lastLine})
		c.st.mode = ModeScript
	}
	if len(c.tags) > 0 {
		top := c.tags[len(c.tags)-1]
		return errors.NewCompileError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("tag <:%s> is never closed", top.name), top.line, top.col)
	}
	return nil
}
