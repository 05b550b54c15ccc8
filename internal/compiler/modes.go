package compiler

import (
	"strings"

	"github.com/conneroisu/loom/internal/errors"
)

type spanKind int

const (
	spanNone spanKind = iota
	spanInterpolate
	spanPoke
)

// state is the transducer state carried between steps. It is copied by
// value; steps never share it.
type state struct {
	mode Mode

	span   spanKind
	depth  int
	quote  byte
	escape bool
	text   string
	line   int
	col    int
}

// step consumes input at c and returns the next state, the nodes it
// produced and how many bytes it consumed. A step always consumes at least
// one byte unless it fails.
type step func(c Cursor, st state) (state, []Node, int, error)

// scriptStep passes Go statements through, expanding @@ and @name against
// the attribute bag.
func scriptStep(c Cursor, st state) (state, []Node, int, error) {
	if st.quote == 0 {
		switch {
		case c.HasPrefix("//"):
			return st, []Node{{Kind: NodeScript, Text: c.Rest(), Line: c.Line()}}, len(c.Rest()), nil
		case c.HasPrefix("@@"):
			return st, []Node{{Kind: NodeResetAttrs, Line: c.Line()}}, 2, nil
		case c.Peek() == '@':
			n := c.identLen(1)
			if n == 0 {
				return st, nil, 0, malformedAttr(c)
			}
			return st, []Node{{Kind: NodeAttr, Text: c.Rest()[1 : 1+n], Line: c.Line()}}, 1 + n, nil
		}
	}

	rest := c.Rest()
	i := 0
	for i < len(rest) {
		if st.quote != 0 {
			st = quoted(st, rest[i])
			i++
			continue
		}
		if i > 0 && (rest[i] == '@' || strings.HasPrefix(rest[i:], "//")) {
			break
		}
		if isQuote(rest[i]) {
			st.quote = rest[i]
		}
		i++
	}
	return st, []Node{{Kind: NodeScript, Text: rest[:i], Line: c.Line()}}, i, nil
}

// markupStep accumulates literal markup and recognizes spans and
// attribute helpers.
func markupStep(c Cursor, st state) (state, []Node, int, error) {
	if st.span != spanNone {
		return spanStep(c, st)
	}

	switch {
	case c.HasPrefix("${"):
		return openSpan(c, st, spanInterpolate), nil, 2, nil
	case c.HasPrefix("#{"):
		return openSpan(c, st, spanPoke), nil, 2, nil
	case c.HasPrefix("@@"):
		return st, []Node{{Kind: NodeAllAttrs, Line: c.Line()}}, 2, nil
	case c.HasPrefix("-@") && c.PeekAt(2) != '@':
		n := c.identLen(2)
		if n == 0 {
			return st, nil, 0, malformedAttr(c.Advance(1))
		}
		node := Node{Kind: NodeAttr, Text: c.Rest()[2 : 2+n], Consume: true, Line: c.Line()}
		return st, []Node{node}, 2 + n, nil
	case c.Peek() == '@':
		n := c.identLen(1)
		if n == 0 {
			return st, nil, 0, malformedAttr(c)
		}
		return st, []Node{{Kind: NodeAttr, Text: c.Rest()[1 : 1+n], Line: c.Line()}}, 1 + n, nil
	}

	n := literalRun(c.Rest(), true)
	return st, []Node{{Kind: NodeLiteral, Text: c.Rest()[:n], Line: c.Line()}}, n, nil
}

// tagStep scans a pseudo-component attribute bag. Only spans are special;
// attribute helpers are not.
func tagStep(c Cursor, st state) (state, []Node, int, error) {
	if st.span != spanNone {
		return spanStep(c, st)
	}

	switch {
	case c.HasPrefix("${"):
		return openSpan(c, st, spanInterpolate), nil, 2, nil
	case c.HasPrefix("#{"):
		return openSpan(c, st, spanPoke), nil, 2, nil
	}

	n := literalRun(c.Rest(), false)
	return st, []Node{{Kind: NodeLiteral, Text: c.Rest()[:n], Line: c.Line()}}, n, nil
}

// spanStep consumes one byte of a ${ } or #{ } span, tracking brace depth
// and skipping Go string and rune literals.
func spanStep(c Cursor, st state) (state, []Node, int, error) {
	ch := c.Peek()
	if st.quote != 0 {
		st = quoted(st, ch)
		st.text += string(ch)
		return st, nil, 1, nil
	}

	switch {
	case isQuote(ch):
		st.quote = ch
	case ch == '{':
		st.depth++
	case ch == '}' && st.depth > 0:
		st.depth--
	case ch == '}':
		text := strings.TrimSpace(st.text)
		kind := NodeInterpolate
		if st.span == spanPoke {
			kind = NodePoke
		} else if text == "" {
			return st, nil, 0, errors.NewCompileError(errors.ErrCodeCompileFailed,
				"empty interpolation", st.line, st.col)
		}
		node := Node{Kind: kind, Text: text, Line: st.line}
		st.span, st.text, st.depth = spanNone, "", 0
		return st, []Node{node}, 1, nil
	}
	st.text += string(ch)
	return st, nil, 1, nil
}

func openSpan(c Cursor, st state, kind spanKind) state {
	st.span = kind
	st.depth = 0
	st.quote = 0
	st.escape = false
	st.text = ""
	st.line = c.Line()
	st.col = c.Column()
	return st
}

// quoted advances the string-literal state over ch.
func quoted(st state, ch byte) state {
	switch {
	case st.escape:
		st.escape = false
	case ch == '\\' && st.quote != '`':
		st.escape = true
	case ch == st.quote:
		st.quote = 0
	}
	return st
}

func isQuote(ch byte) bool {
	return ch == '"' || ch == '\'' || ch == '`'
}

// literalRun returns the length of the literal text at the start of s. The
// first byte is always literal so every step makes progress.
func literalRun(s string, attrs bool) int {
	i := 1
	for i < len(s) {
		rest := s[i:]
		if strings.HasPrefix(rest, "${") || strings.HasPrefix(rest, "#{") {
			break
		}
		if attrs && (rest[0] == '@' || strings.HasPrefix(rest, "-@")) {
			break
		}
		i++
	}
	return i
}

func malformedAttr(c Cursor) error {
	return errors.NewCompileError(errors.ErrCodeMalformedAttr,
		"'@' must be followed by '@' or an attribute name", c.Line(), c.Column())
}

// run drives fn over the cursor until it is exhausted.
func run(fn step, st state, c Cursor) (state, []Node, error) {
	var nodes []Node
	for !c.Done() {
		next, out, n, err := fn(c, st)
		if err != nil {
			return st, nil, err
		}
		if n <= 0 {
			return st, nil, errors.NewInternalError(errors.ErrCodeInternalError,
				"compiler step made no progress", nil)
		}
		st = next
		nodes = append(nodes, out...)
		c = c.Advance(n)
	}
	return st, nodes, nil
}
