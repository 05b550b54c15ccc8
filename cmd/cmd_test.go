package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/loom/internal/errors"
)

// execute runs the root command with args and returns what it printed.
// Flag values and viper state are reset first since commands are package
// globals.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if s, ok := f.Value.(pflag.SliceValue); ok {
			_ = s.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeTemplate(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestCompileCommand(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "hello.loom", "<?param name=\"who\"?>\n<p>${ who }</p>")

	out, err := execute(t, "compile", path)
	require.NoError(t, err)
	assert.Contains(t, out, "frame.Str(who)")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "return out.String()"))

	out, err = execute(t, "compile", path, "-o", "json")
	require.NoError(t, err)
	var report compileReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "hello.loom", report.Name)
	assert.Equal(t, []string{"who"}, report.Params)
	assert.Equal(t, []declaration{{Kind: "param", Name: "who"}}, report.Declarations)

	out, err = execute(t, "compile", path, "--debug")
	require.NoError(t, err)
	assert.Contains(t, out, "frame.Str(who)")
}

func TestCompileCommandReportsLocation(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "broken.loom", "<p>ok</p>\n<p>${ open </p>")

	_, err := execute(t, "compile", path)
	require.Error(t, err)

	var le *errors.LoomError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, errors.ErrCodeUnterminatedSpan, le.Code)
	assert.Equal(t, path, le.FilePath)
	assert.Equal(t, 2, le.Line)
}

func TestCompileCommandMissingFile(t *testing.T) {
	_, err := execute(t, "compile", filepath.Join(t.TempDir(), "missing.loom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	notes := writeTemplate(t, t.TempDir(), "notes.txt", "<p>x</p>")
	_, err = execute(t, "compile", notes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "shout.loom", "<?param name=\"s\"?>\n<b>${ strings.ToUpper(frame.Str(s)) }</b>")
	path := writeTemplate(t, dir, "page.loom",
		"<?param name=\"who\"?>\n<?param name=\"n\"?>\n<?function name=\"shout\" src=\"shout.loom\"?>\n<p id=\"p\">${ shout(who) } x${ n.(int) + 1 }</p>")

	out, err := execute(t, "render", path, "-P", "who=ada", "-P", "n=2")
	require.NoError(t, err)
	assert.Equal(t, "<p id=\"p\"><b>ADA</b> x3</p>\n", out)

	out, err = execute(t, "render", path, "-P", "who=ada", "-P", "n=2", "-o", "json")
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "<p id=\"p\"><b>ADA</b> x3</p>", result["html"])
	assert.Equal(t, []interface{}{"who", "n"}, result["params"])

	out, err = execute(t, "render", path, "-P", "who=ada", "-P", "n=0", "--page")
	require.NoError(t, err)
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, `<div id="app"><p id="p"><b>ADA</b> x1</p></div>`)

	_, err = execute(t, "render", path, "-P", "nobody=1")
	assert.ErrorIs(t, err, errors.ErrBadArguments)
}

func TestRenderCommandStateAndInputs(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "greet.loom",
		"<?input name=\"user\" type=\"User\" required=\"true\"?>\n<p>${ user } has ${ self.Get(\"count\") }</p>")

	out, err := execute(t, "render", path, "--announce", "User=ada", "--state", "count=4")
	require.NoError(t, err)
	assert.Equal(t, "<p>ada has 4</p>\n", out)

	_, err = execute(t, "render", path, "--timeout", "50ms")
	assert.ErrorIs(t, err, errors.ErrNotReady, "a required input without an announcement never becomes ready")
}

func TestRenderCommandSubjectFlag(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "x.loom", "<i>x</i>")

	out, err := execute(t, "render", path, "--subject", "root", "--page")
	require.NoError(t, err)
	assert.Contains(t, out, `<div id="root"><i>x</i></div>`)
}

func TestRenderCommandCompileError(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "broken.loom", "<p>${ open </p>")

	_, err := execute(t, "render", path)
	assert.True(t, errors.IsCompileError(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "loom "))

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestFlagValidation(t *testing.T) {
	assert.NoError(t, ValidatePort("0"))
	assert.NoError(t, ValidatePort("8080"))
	assert.Error(t, ValidatePort("70000"))
	assert.Error(t, ValidatePort("http"))

	_, err := execute(t, "serve", "x.loom", "--port", "99999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be between")

	f := &StandardFlags{OutputFormat: "yaml"}
	assert.Error(t, f.ValidateFlags())

	dir := t.TempDir()
	assert.Error(t, ValidateFileExists(dir))
	assert.NoError(t, ValidateFileExists(writeTemplate(t, dir, "a.loom", "")))
}

func TestStandardFlagValues(t *testing.T) {
	f := &StandardFlags{
		Params:   []string{"b=[1, 2]", "a=hi"},
		State:    []string{"on=true"},
		Announce: []string{"User=ada"},
	}

	args, err := f.Args([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"hi", []interface{}{1, 2}, nil}, args)

	state, err := f.InitialState()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"on": true}, state)

	announced, err := f.Announcements()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"User": "ada"}, announced)

	f.Params = []string{"broken"}
	_, err = f.Args([]string{"a"})
	assert.ErrorIs(t, err, errors.ErrBadArguments)
}
