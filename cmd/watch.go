package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/loom/internal/reconcile"
	"github.com/conneroisu/loom/internal/resolver"
	"github.com/conneroisu/loom/internal/watcher"
)

const watchDelay = 300 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <template>",
	Short: "Re-render a template on change and print the update records",
	Long: `Watch mounts a template, renders it and re-renders it whenever the
template or a file in a template directory changes. Every re-render is
reconciled against the previous output and the resulting update records
are printed, one per line.

Examples:
  loom watch page.loom -P who=ada
  loom watch page.loom -o json      # One JSON array of records per render`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchFlags *StandardFlags

func init() {
	rootCmd.AddCommand(watchCmd)
	watchFlags = AddStandardFlags(watchCmd, "render", "output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, watchFlags)
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
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, watchFlags, path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	unsubscribe := s.mount.Subscribe(recordPrinter(cmd.OutOrStdout(), watchFlags.OutputFormat))
	defer unsubscribe()

	if err := s.render(ctx); err != nil {
		s.logger.Error(ctx, err, "Render failed")
	}

	fw, err := watchSession(ctx, s, path)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", path)
	<-ctx.Done()
	return nil
}

// watchSession reloads s whenever path or a file in a configured template
// directory changes.
func watchSession(ctx context.Context, s *session, path string) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(watchDelay, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.ExtensionFilter(s.cfg.Render.Extensions...))
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoGitFilter)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dirs := []string{filepath.Dir(abs)}
	for _, dir := range s.cfg.Render.TemplateDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if err := fw.AddRecursive(dir); err != nil {
			_ = fw.Stop()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, e := range events {
			if href, err := resolver.Abs("", e.Path); err == nil {
				s.imports.Forget(href)
			}
		}
		text, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("re-reading %s: %w", path, err)
		}
		return s.reload(ctx, string(text))
	})

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

// recordPrinter writes each batch of update records to w.
func recordPrinter(w io.Writer, format string) func([]reconcile.Record) {
	var mutex sync.Mutex
	return func(records []reconcile.Record) {
		mutex.Lock()
		defer mutex.Unlock()

		if format == "json" {
			_ = json.NewEncoder(w).Encode(records)
			return
		}
		for _, r := range records {
			fmt.Fprintln(w, r.String())
		}
	}
}
