// Package instruction extracts declarative processing instructions
// (<?param?>, <?input?>, <?function?>, <?tag?>) from raw template text.
package instruction

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Kind identifies a declaration.
type Kind string

const (
	KindParam    Kind = "param"
	KindInput    Kind = "input"
	KindFunction Kind = "function"
	KindTag      Kind = "tag"
)

// Declaration is one processing instruction found in a template.
type Declaration struct {
	Kind     Kind
	Name     string
	Type     string // inputs only
	Required bool   // inputs only
	Href     string // function and tag imports only
	Attrs    map[string]interface{}
}

// IsImport reports whether d declares a function or tag import.
func (d Declaration) IsImport() bool {
	return d.Kind == KindFunction || d.Kind == KindTag
}

var (
	instructionPattern = regexp.MustCompile(`<\?([A-Za-z][\w-]*)((?:\s+[A-Za-z_][\w:.-]*\s*=\s*"[^"]*")*)\s*\?>`)
	attributePattern   = regexp.MustCompile(`([A-Za-z_][\w:.-]*)\s*=\s*"([^"]*)"`)
)

// Scan removes every well-formed processing instruction from text and
// returns the cleaned text with the declarations in source order. Unknown
// instruction kinds are dropped silently. An unterminated "<?" is not an
// instruction and stays in the text.
func Scan(text string) (string, []Declaration) {
	var decls []Declaration

	cleaned := instructionPattern.ReplaceAllStringFunc(text, func(match string) string {
		m := instructionPattern.FindStringSubmatch(match)
		kind := Kind(fold(m[1]))
		attrs := parseAttrs(m[2])

		decl, ok := declare(kind, attrs)
		if ok {
			decls = append(decls, decl)
		}
		return ""
	})

	return cleaned, decls
}

func declare(kind Kind, attrs map[string]interface{}) (Declaration, bool) {
	d := Declaration{Kind: kind, Name: str(attrs["name"]), Attrs: attrs}
	switch kind {
	case KindParam:
	case KindInput:
		d.Type = str(attrs["type"])
		d.Required = truthy(attrs["required"])
	case KindFunction, KindTag:
		d.Href = str(attrs["src"])
	default:
		return Declaration{}, false
	}
	if d.Name == "" {
		return Declaration{}, false
	}
	return d, true
}

func parseAttrs(raw string) map[string]interface{} {
	attrs := make(map[string]interface{})
	for _, m := range attributePattern.FindAllStringSubmatch(raw, -1) {
		attrs[fold(m[1])] = coerce(m[2])
	}
	return attrs
}

// coerce recognizes numeric and boolean literals; everything else stays a
// string.
func coerce(val string) interface{} {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return val
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &node); err != nil || len(node.Content) != 1 {
		return val
	}
	scalar := node.Content[0]
	if scalar.Kind != yaml.ScalarNode || scalar.Style != 0 {
		return val
	}
	switch scalar.Tag {
	case "!!int":
		var n int
		if scalar.Decode(&n) == nil {
			return n
		}
	case "!!float":
		var f float64
		if scalar.Decode(&f) == nil {
			return f
		}
	case "!!bool":
		var b bool
		if scalar.Decode(&b) == nil {
			return b
		}
	}
	return val
}

// fold case-folds instruction and attribute names. A Caser is stateful,
// so one is made per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return strings.TrimSpace(yamlText(v))
}

func yamlText(v interface{}) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true")
	}
	return false
}
