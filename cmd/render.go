package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a template once and print the HTML",
	Long: `Render compiles a template, resolves its imports, renders it once with
the given parameters and prints the content of the subject element.

Parameter values are YAML, so -P count=3 passes an int and -P 'tags=[a, b]'
a list. Values that are not valid YAML pass as strings.

Examples:
  loom render card.loom -P title=Hello
  loom render counter.loom --state count=5
  loom render page.loom --page          # Print the whole page`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderFlags *StandardFlags
	renderPage  bool
)

func init() {
	rootCmd.AddCommand(renderCmd)
	renderFlags = AddStandardFlags(renderCmd, "render", "output")
	renderCmd.Flags().BoolVar(&renderPage, "page", false, "Print the whole page instead of the subject content")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, renderFlags)
	if err != nil {
		return err
	}
	path := args[0]
	if err := checkTemplate(cfg, path); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx, cfg, renderFlags, path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.render(ctx); err != nil {
		return err
	}

	html := s.mount.HTML()
	if renderPage {
		html = s.mount.Document().String()
	}

	out := cmd.OutOrStdout()
	if renderFlags.OutputFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"template": path,
			"params":   s.mount.Params(),
			"html":     html,
		})
	}
	_, err = fmt.Fprintln(out, html)
	return err
}
