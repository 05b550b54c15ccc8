// Package unit assembles compiled template bodies into Go render functions
// and binds them with the yaegi interpreter.
package unit

import (
	"fmt"
	"go/token"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/conneroisu/loom/internal/compiler"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/instruction"
	"github.com/conneroisu/loom/pkg/frame"
)

// RenderFunc is the signature of a bound template.
type RenderFunc func(f *frame.Frame, args []interface{}) string

// Packages templates may use besides loom/frame. The assembled source
// imports all of them; nothing else is loaded into the interpreter.
var allowedPackages = []string{"fmt", "strconv", "strings"}

var reserved = map[string]bool{
	compiler.FrameVar:  true,
	compiler.OutputVar: true,
	compiler.AttrsVar:  true,
	"self":             true,
	"args":             true,
	"frame":            true,
	"fmt":              true,
	"strconv":          true,
	"strings":          true,
}

// Unit is an assembled template: the generated source, its declared
// parameters and declarations, and once bound, the render function.
type Unit struct {
	name    string
	program *compiler.Program
	decls   []instruction.Declaration
	params  []string
	source  string

	fn    RenderFunc
	mutex sync.RWMutex
}

// Assemble wraps program in a render function. Params bind positionally in
// declaration order; each import and input gets a local slot looked up from
// the frame.
func Assemble(name string, program *compiler.Program, decls []instruction.Declaration) (*Unit, error) {
	u := &Unit{name: name, program: program, decls: decls}

	seen := make(map[string]bool)
	for _, d := range decls {
		if !token.IsIdentifier(d.Name) || reserved[d.Name] {
			return nil, errors.NewCompileError(errors.ErrCodeCompileFailed,
				fmt.Sprintf("%s name %q is not usable as a Go identifier", d.Kind, d.Name), 0, 0).
				WithComponent(name)
		}
		if seen[d.Name] {
			return nil, errors.NewCompileError(errors.ErrCodeCompileFailed,
				fmt.Sprintf("%q is declared more than once", d.Name), 0, 0).
				WithComponent(name)
		}
		seen[d.Name] = true
		if d.Kind == instruction.KindParam {
			u.params = append(u.params, d.Name)
		}
	}

	u.source = u.assemble()
	return u, nil
}

func (u *Unit) assemble() string {
	var b strings.Builder

	b.WriteString("package main\n\nimport (\n")
	for _, pkg := range allowedPackages {
		b.WriteString("\t" + `"` + pkg + `"` + "\n")
	}
	b.WriteString("\n\t\"" + frame.ImportPath + "\"\n)\n\n")
	b.WriteString("var _ = fmt.Sprint\nvar _ = strconv.Itoa\nvar _ = strings.TrimSpace\n\n")

	b.WriteString("func Render(" + compiler.FrameVar + " *frame.Frame, args []interface{}) string {\n")
	b.WriteString(compiler.OutputVar + " := " + compiler.FrameVar + ".Output()\n")
	b.WriteString(compiler.AttrsVar + " := " + compiler.FrameVar + ".Attrs()\n")
	b.WriteString("self := " + compiler.FrameVar + ".Self()\n")

	var locals []string
	for _, d := range u.decls {
		switch {
		case d.IsImport():
			b.WriteString("var " + d.Name + " frame.Func\n")
		case d.Kind == instruction.KindInput:
			b.WriteString("var " + d.Name + " interface{}\n")
		}
	}
	for _, d := range u.decls {
		switch {
		case d.IsImport():
			b.WriteString(d.Name + " = " + compiler.FrameVar + ".Import(" + quote(d.Name) + ")\n")
			locals = append(locals, d.Name)
		case d.Kind == instruction.KindInput:
			b.WriteString(d.Name + " = " + compiler.FrameVar + ".Input(" + quote(d.Name) + ")\n")
			locals = append(locals, d.Name)
		}
	}
	for i, p := range u.params {
		b.WriteString(fmt.Sprintf("%s := args[%d]\n", p, i))
		locals = append(locals, p)
	}

	b.WriteString("_, _, _ = " + compiler.OutputVar + ", " + compiler.AttrsVar + ", self\n")
	for _, l := range locals {
		b.WriteString("_ = " + l + "\n")
	}

	b.WriteString(u.program.Body)
	b.WriteString("}\n")
	return b.String()
}

func quote(s string) string { return `"` + s + `"` }

// Name returns the diagnostic name of the unit.
func (u *Unit) Name() string { return u.name }

// Params returns the declared parameter names in order.
func (u *Unit) Params() []string {
	out := make([]string, len(u.params))
	copy(out, u.params)
	return out
}

// Declarations returns every declaration of the unit.
func (u *Unit) Declarations() []instruction.Declaration { return u.decls }

// Imports returns the function and tag imports.
func (u *Unit) Imports() []instruction.Declaration {
	return u.filter(func(d instruction.Declaration) bool { return d.IsImport() })
}

// Inputs returns the declared inputs.
func (u *Unit) Inputs() []instruction.Declaration {
	return u.filter(func(d instruction.Declaration) bool { return d.Kind == instruction.KindInput })
}

func (u *Unit) filter(keep func(instruction.Declaration) bool) []instruction.Declaration {
	var out []instruction.Declaration
	for _, d := range u.decls {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Program returns the compiled program.
func (u *Unit) Program() *compiler.Program { return u.program }

// Source returns the complete generated source.
func (u *Unit) Source() string { return u.source }

// Debug returns the generated source re-indented for reading.
func (u *Unit) Debug() string { return compiler.Format(u.source) }

// Bound reports whether Bind succeeded.
func (u *Unit) Bound() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.fn != nil
}

// Bind evaluates the generated source and extracts the render function. A
// unit binds once; later calls fail with ErrAlreadyCompiled.
func (u *Unit) Bind() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.fn != nil {
		return errors.NewValidationError(errors.ErrCodeAlreadyCompiled,
			fmt.Sprintf("unit %s is already compiled", u.name))
	}

	i := interp.New(interp.Options{})
	if err := i.Use(symbols()); err != nil {
		return errors.WrapInternal(err, errors.ErrCodeInternalError, "failed to load template packages")
	}
	if err := i.Use(frame.Symbols); err != nil {
		return errors.WrapInternal(err, errors.ErrCodeInternalError, "failed to load frame package")
	}

	if _, err := i.Eval(u.source); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCompile, errors.ErrCodeCompileFailed,
			fmt.Sprintf("template %s does not compile", u.name)).
			WithComponent(u.name).WithSource(u.source)
	}

	v, err := i.Eval("main.Render")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCompile, errors.ErrCodeCompileFailed,
			"render function not found").WithSource(u.source)
	}
	fn, ok := v.Interface().(func(*frame.Frame, []interface{}) string)
	if !ok {
		return errors.NewInternalError(errors.ErrCodeInternalError,
			fmt.Sprintf("render function has type %T", v.Interface()), nil).WithSource(u.source)
	}

	u.fn = fn
	return nil
}

func symbols() interp.Exports {
	exports := make(interp.Exports, len(allowedPackages))
	for _, pkg := range allowedPackages {
		key := pkg + "/" + pkg
		if syms, ok := stdlib.Symbols[key]; ok {
			exports[key] = syms
		}
	}
	return exports
}

// Execute renders the unit once with a fresh frame. A panic in the
// template is returned as an execution error carrying the generated source.
func (u *Unit) Execute(opts frame.Options, args []interface{}) (output string, err error) {
	u.mutex.RLock()
	fn := u.fn
	u.mutex.RUnlock()

	if fn == nil {
		return "", errors.NewValidationError(errors.ErrCodeNotCompiled,
			fmt.Sprintf("unit %s is not compiled", u.name))
	}
	if len(args) != len(u.params) {
		return "", errors.NewValidationError(errors.ErrCodeBadArguments,
			fmt.Sprintf("unit %s takes %d arguments (%s), got %d",
				u.name, len(u.params), strings.Join(u.params, ", "), len(args)))
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.NewExecutionError(fmt.Sprintf("render of %s failed: %v", u.name, p), panicError(p)).
				WithComponent(u.name).WithSource(u.source)
		}
	}()

	return fn(frame.New(opts), args), nil
}

// Func adapts the unit to the calling convention of imported functions.
// opts supplies the frame for every call; a failing render panics so the
// calling template fails with it.
func (u *Unit) Func(opts func() frame.Options) frame.Func {
	return func(args ...interface{}) string {
		out, err := u.Execute(opts(), args)
		if err != nil {
			panic(err)
		}
		return out
	}
}

func panicError(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}
