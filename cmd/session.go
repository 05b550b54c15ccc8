package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conneroisu/loom/internal/config"
	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/host"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/notify"
	"github.com/conneroisu/loom/internal/renderer"
	"github.com/conneroisu/loom/internal/resolver"
	"github.com/conneroisu/loom/internal/server"
	"github.com/conneroisu/loom/internal/validation"
)

// session is one template mounted into a fresh page.
type session struct {
	cfg     *config.Config
	logger  logging.Logger
	bus     *notify.Bus
	imports *resolver.Resolver
	mount   *renderer.Mount
	flags   *StandardFlags
}

// checkTemplate rejects paths that are not template files.
func checkTemplate(cfg *config.Config, path string) error {
	if err := ValidateFileExists(path); err != nil {
		return err
	}
	return validation.ValidateFileExtension(path, cfg.Render.Extensions)
}

func loadConfig(cmd *cobra.Command, flags *StandardFlags) (*config.Config, error) {
	if err := flags.ValidateFlags(); err != nil {
		return nil, err
	}
	flags.Bind(cmd)
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openSession mounts the template at path. A template that fails to
// compile is mounted as an error overlay when keepBroken is set and the
// compile error is returned alongside the session.
func openSession(ctx context.Context, cfg *config.Config, flags *StandardFlags, path string, keepBroken bool) (*session, error) {
	logger := cfg.Logger()

	state, err := flags.InitialState()
	if err != nil {
		return nil, err
	}

	doc, err := dom.New(renderer.Page(filepath.Base(path), cfg.Server.Subject))
	if err != nil {
		return nil, err
	}

	bus := notify.NewBus()
	registry := invoke.NewRegistry(logger,
		invoke.WithSignature(cfg.Render.Signature),
		invoke.WithRelay(server.NewRelay(cfg.Server.Peers, logger)))

	imports := resolver.New(resolver.DefaultLoader(), logger)
	mount, err := renderer.Open(ctx, doc, cfg.Server.Subject, path, renderer.Options{
		Logger:    logger,
		Registry:  registry,
		Resolver:  imports,
		Scheduler: host.TickScheduler{Tick: cfg.Render.Tick},
		Bus:       bus,
		Self:      notify.NewModel(bus, "self", state),
		Target:    cfg.Render.Signature,
	})
	if mount == nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, bus: bus, imports: imports, mount: mount, flags: flags}
	if err != nil {
		if !keepBroken {
			mount.Close()
			return nil, err
		}
		logger.Error(ctx, err, "Template failed to compile, serving the error overlay", "path", path)
		return s, nil
	}

	if err := s.announce(); err != nil {
		mount.Close()
		return nil, err
	}
	return s, nil
}

// announce publishes the --announce values to the template's inputs.
func (s *session) announce() error {
	values, err := s.flags.Announcements()
	if err != nil {
		return err
	}
	types := make([]string, 0, len(values))
	for typ := range values {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		s.bus.Announce(typ, values[typ])
	}
	return nil
}

// render renders the template with the --param values, waiting at most
// the --timeout for imports.
func (s *session) render(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.flags.Timeout)
	defer cancel()

	if err := s.mount.Host().Wait(ctx); err != nil {
		return fmt.Errorf("template not ready: %w", err)
	}
	if s.mount.Host().Fallback() {
		return s.mount.Render(ctx)
	}
	args, err := s.flags.Args(s.mount.Params())
	if err != nil {
		return err
	}
	return s.mount.Render(ctx, args...)
}

// reload recompiles the template from text and renders it again.
func (s *session) reload(ctx context.Context, text string) error {
	if err := s.mount.Reload(ctx, text); err != nil {
		s.logger.Error(ctx, err, "Template failed to compile, showing the error overlay")
	} else if err := s.announce(); err != nil {
		return err
	}
	return s.render(ctx)
}

func (s *session) Close() {
	s.mount.Close()
}
