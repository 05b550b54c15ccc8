package unit

import (
	"github.com/conneroisu/loom/internal/compiler"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/instruction"
)

// Compile runs the whole pipeline on raw template text: instruction scan,
// character compilation, assembly and binding.
func Compile(name, text string) (*Unit, error) {
	u, err := Prepare(name, text)
	if err != nil {
		return nil, err
	}
	if err := u.Bind(); err != nil {
		return nil, err
	}
	return u, nil
}

// Prepare scans, compiles and assembles text without binding it.
func Prepare(name, text string) (*Unit, error) {
	cleaned, decls := instruction.Scan(text)

	program, err := compiler.Compile(cleaned)
	if err != nil {
		var le *errors.LoomError
		if errors.As(err, &le) {
			return nil, le.WithComponent(name)
		}
		return nil, err
	}

	return Assemble(name, program, decls)
}
