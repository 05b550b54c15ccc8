package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/unit"
)

var compileCmd = &cobra.Command{
	Use:   "compile <template>",
	Short: "Compile a template and print its render function",
	Long: `Compile runs the whole pipeline on a template (instruction scan,
character compilation, assembly and binding) and prints the generated
function body. Compile errors are reported with their line and column.

Examples:
  loom compile page.loom            # Print the generated body
  loom compile page.loom --debug    # Print the indented function source
  loom compile page.loom -o json    # Print declarations and body as JSON`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

var compileFlags *StandardFlags

func init() {
	rootCmd.AddCommand(compileCmd)
	compileFlags = AddStandardFlags(compileCmd, "output")
}

type compileReport struct {
	Name         string        `json:"name"`
	Params       []string      `json:"params"`
	Declarations []declaration `json:"declarations"`
	Body         string        `json:"body"`
}

type declaration struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Required bool   `json:"required,omitempty"`
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, compileFlags)
	if err != nil {
		return err
	}

	path := args[0]
	if err := checkTemplate(cfg, path); err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileNotFound, "cannot read template").WithLocation(path, 0, 0)
	}

	u, err := unit.Compile(filepath.Base(path), string(text))
	if err != nil {
		var le *errors.LoomError
		if errors.As(err, &le) && le.FilePath == "" {
			return le.WithLocation(path, le.Line, le.Column)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if compileFlags.OutputFormat == "json" {
		report := compileReport{Name: u.Name(), Params: u.Params(), Body: u.Program().Body}
		for _, d := range u.Declarations() {
			report.Declarations = append(report.Declarations, declaration{
				Kind:     string(d.Kind),
				Name:     d.Name,
				Type:     d.Type,
				Href:     d.Href,
				Required: d.Required,
			})
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	if compileFlags.Debug || cfg.Render.DebugIR {
		_, err = fmt.Fprintln(out, u.Debug())
		return err
	}
	_, err = fmt.Fprint(out, u.Program().Body)
	return err
}
