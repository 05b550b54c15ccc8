package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/loom/internal/config"
	"github.com/conneroisu/loom/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve <template>",
	Aliases: []string{"s"},
	Short:   "Serve a template as a live page",
	Long: `Serve mounts a template into a page and serves it over HTTP. Event
handlers in the page invoke their closures over a websocket; every
re-render they cause is reconciled and the update records are pushed to
all connected pages.

Invocations signed for another loom process are relayed to the peer
configured for that signature under server.peers.

Examples:
  loom serve counter.loom                  # Serve on localhost:7331
  loom serve counter.loom -p 8080 --watch  # Reload on template changes
  loom serve page.loom -P who=ada`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

var (
	serveFlags *StandardFlags
	serveWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveFlags = AddStandardFlags(serveCmd, "server", "render")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Reload the template when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, serveFlags)
	if err != nil {
		return err
	}
	path := args[0]
	if err := checkTemplate(cfg, path); err != nil {
		return err
	}

	if result := config.ValidateConfigWithDetails(cfg); result.HasWarnings() {
		fmt.Fprint(cmd.ErrOrStderr(), result.String())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, serveFlags, path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.render(ctx); err != nil {
		return err
	}

	if serveWatch {
		fw, err := watchSession(ctx, s, path)
		if err != nil {
			return err
		}
		defer fw.Stop()
	}

	srv := server.New(cfg, s.mount, s.logger)
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on http://%s\n", path, cfg.Addr())
	return srv.Start(ctx)
}
