package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// ID returns the id attribute of an element, or "".
func ID(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	v, _ := Attr(n, "id")
	return v
}

// Attr returns the value of a markup attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key && a.Namespace == "" {
			return a.Val, true
		}
	}
	return "", false
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Find returns the first node at or below n, depth first, matching fn.
func Find(n *html.Node, fn func(*html.Node) bool) *html.Node {
	if fn(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, fn); found != nil {
			return found
		}
	}
	return nil
}

// Within reports whether n is ancestor or a descendant of it.
func Within(n, ancestor *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// Text returns the concatenated text below n.
func Text(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

// Outer renders n and its subtree.
func Outer(n *html.Node) string {
	var b bytes.Buffer
	_ = html.Render(&b, n)
	return b.String()
}

// Inner renders the children of n.
func Inner(n *html.Node) string {
	var b bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// Path returns the child ordinals leading from ancestor down to n, or nil
// when n is not below ancestor.
func Path(n, ancestor *html.Node) []int {
	path := []int{}
	for ; n != nil && n != ancestor; n = n.Parent {
		i := 0
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			i++
		}
		path = append(path, i)
	}
	if n == nil {
		return nil
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// At follows path down from n and returns the node it reaches, or nil.
func At(n *html.Node, path []int) *html.Node {
	for _, i := range path {
		c := n.FirstChild
		for ; c != nil && i > 0; i-- {
			c = c.NextSibling
		}
		if c == nil {
			return nil
		}
		n = c
	}
	return n
}

// Clone deep-copies n. The copy is detached.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(Clone(child))
	}
	return c
}
