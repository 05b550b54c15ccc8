package compiler

import "strings"

// Cursor is a read position over one trimmed template line. It is a value:
// advancing returns a new cursor and never mutates the receiver.
type Cursor struct {
	src  string
	pos  int
	line int
	col  int // column of src[0] in the original line, 1-based
}

// NewCursor creates a cursor at the start of src, which sits on the given
// 1-based line and starts at the given 1-based column.
func NewCursor(src string, line, col int) Cursor {
	return Cursor{src: src, line: line, col: col}
}

// Done reports whether the cursor is at the end of its input.
func (c Cursor) Done() bool { return c.pos >= len(c.src) }

// Peek returns the current byte, or 0 at the end of input.
func (c Cursor) Peek() byte { return c.PeekAt(0) }

// PeekAt returns the byte n positions ahead, or 0 past the end of input.
func (c Cursor) PeekAt(n int) byte {
	if c.pos+n >= len(c.src) || c.pos+n < 0 {
		return 0
	}
	return c.src[c.pos+n]
}

// HasPrefix reports whether the remaining input starts with s.
func (c Cursor) HasPrefix(s string) bool {
	return strings.HasPrefix(c.src[c.pos:], s)
}

// Rest returns the remaining input.
func (c Cursor) Rest() string { return c.src[c.pos:] }

// Advance returns a cursor n bytes further along, clamped to the end.
func (c Cursor) Advance(n int) Cursor {
	c.pos += n
	if c.pos > len(c.src) {
		c.pos = len(c.src)
	}
	return c
}

// Line returns the 1-based source line.
func (c Cursor) Line() int { return c.line }

// Column returns the 1-based source column of the current byte.
func (c Cursor) Column() int { return c.col + c.pos }

// identLen returns the length of the identifier starting n bytes ahead.
func (c Cursor) identLen(n int) int {
	rest := c.src[min(c.pos+n, len(c.src)):]
	i := 0
	for i < len(rest) {
		ch := rest[i]
		if ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || i > 0 && (ch >= '0' && ch <= '9' || ch == '-') {
			i++
			continue
		}
		break
	}
	// A trailing dash belongs to the surrounding text, not the name.
	for i > 0 && rest[i-1] == '-' {
		i--
	}
	return i
}
