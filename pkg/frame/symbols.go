package frame

import "reflect"

// ImportPath is the path compiled templates import this package under.
const ImportPath = "loom/frame"

// Symbols exports the package to the template interpreter. The key follows
// the interpreter's "path/name" convention.
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/frame": {
		"Frame":   reflect.ValueOf((*Frame)(nil)),
		"Buffer":  reflect.ValueOf((*Buffer)(nil)),
		"Attrs":   reflect.ValueOf((*Attrs)(nil)),
		"Event":   reflect.ValueOf((*Event)(nil)),
		"Func":    reflect.ValueOf((*Func)(nil)),
		"Target":  reflect.ValueOf((*Target)(nil)),
		"Options": reflect.ValueOf((*Options)(nil)),

		"New":           reflect.ValueOf(New),
		"Snippet":       reflect.ValueOf(Snippet),
		"SnippetPrefix": reflect.ValueOf(SnippetPrefix),
		"Str":           reflect.ValueOf(Str),
		"JSON":          reflect.ValueOf(JSON),
		"List":          reflect.ValueOf(List),
		"Int":           reflect.ValueOf(Int),
	},
}
