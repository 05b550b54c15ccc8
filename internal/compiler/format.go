package compiler

import "strings"

// Format re-indents generated source by bracket nesting for diagnostics.
// A line that opens several brackets indents the following lines once.
func Format(src string) string {
	var (
		b     strings.Builder
		stack []int
		quote byte
	)

	for i, raw := range strings.Split(src, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if quote == '`' {
			// Inside a raw string the text is significant.
			b.WriteString(raw)
			quote = scanQuote(raw, quote, nil)
			continue
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		net := 0
		quote = scanQuote(line, quote, &net)

		indent := len(stack)
		if strings.ContainsRune(")]}", rune(line[0])) {
			indent--
		}
		switch {
		case net > 0:
			stack = append(stack, net)
		case net < 0:
			stack = popDepth(stack, -net)
			if len(stack) < indent {
				indent = len(stack)
			}
		}

		b.WriteString(strings.Repeat("\t", max(indent, 0)))
		b.WriteString(line)
	}
	return b.String()
}

// scanQuote walks line outside string literals, adding bracket opens and
// closes to net when it is non-nil, and returns the quote still open at
// the end of the line.
func scanQuote(line string, quote byte, net *int) byte {
	escape := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if quote != 0 {
			switch {
			case escape:
				escape = false
			case ch == '\\' && quote != '`':
				escape = true
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			quote = ch
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return 0
			}
		case '(', '[', '{':
			if net != nil {
				*net++
			}
		case ')', ']', '}':
			if net != nil {
				*net--
			}
		}
	}
	if quote != '`' {
		return 0
	}
	return quote
}

func popDepth(stack []int, n int) []int {
	for n > 0 && len(stack) > 0 {
		top := stack[len(stack)-1]
		if top > n {
			stack[len(stack)-1] = top - n
			return stack
		}
		n -= top
		stack = stack[:len(stack)-1]
	}
	return stack
}
