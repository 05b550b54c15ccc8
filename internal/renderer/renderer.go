// Package renderer mounts a compiled template into a subject element of a
// live document. Every render of the template's host is reconciled into
// the subject, and the applied update records are fanned out to
// subscribers such as the live server.
package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/host"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/notify"
	"github.com/conneroisu/loom/internal/reconcile"
	"github.com/conneroisu/loom/internal/resolver"
	"github.com/conneroisu/loom/pkg/frame"
)

// Options configures a Mount. Zero values get defaults.
type Options struct {
	Logger    logging.Logger
	Registry  *invoke.Registry
	Resolver  *resolver.Resolver
	Scheduler host.Scheduler
	Bus       *notify.Bus
	Self      frame.Target
	// Base resolves relative import references.
	Base string
	// Target scopes the import cache.
	Target string
}

// Mount keeps the subject element of a document in step with the renders
// of one template.
type Mount struct {
	doc      *dom.Document
	name     string
	host     *host.Host
	hostOpts []host.Option
	manager  *reconcile.Manager
	registry *invoke.Registry
	logger   logging.Logger

	subscribers map[int]func([]reconcile.Record)
	next        int
	updateErr   error
	mutex       sync.Mutex
}

// New mounts the template called name into the element with id subject.
func New(doc *dom.Document, subject, name string, opts Options) (*Mount, error) {
	node := doc.ByID(subject)
	if node == nil {
		return nil, errors.NewReconcileError(errors.ErrCodeTargetNotFound,
			fmt.Sprintf("no subject element #%s", subject)).WithContext("id", subject)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = invoke.NewRegistry(opts.Logger)
	}

	m := &Mount{
		doc:         doc,
		name:        name,
		registry:    opts.Registry,
		logger:      opts.Logger.WithComponent("renderer").With("unit", name),
		subscribers: make(map[int]func([]reconcile.Record)),
	}

	manager, err := reconcile.NewManager(doc, node,
		reconcile.WithLogger(opts.Logger),
		reconcile.WithRevoker(opts.Registry),
		reconcile.WithRecordHandler(m.publish))
	if err != nil {
		return nil, err
	}
	m.manager = manager

	hostOpts := []host.Option{
		host.WithLogger(opts.Logger),
		host.WithRegistry(opts.Registry),
		host.WithRenderHandler(m.rendered),
		host.WithBase(opts.Base),
	}
	if opts.Resolver != nil {
		hostOpts = append(hostOpts, host.WithResolver(opts.Resolver))
	}
	if opts.Scheduler != nil {
		hostOpts = append(hostOpts, host.WithScheduler(opts.Scheduler))
	}
	if opts.Bus != nil {
		hostOpts = append(hostOpts, host.WithBus(opts.Bus))
	}
	if opts.Self != nil {
		hostOpts = append(hostOpts, host.WithSelf(opts.Self))
	}
	if opts.Target != "" {
		hostOpts = append(hostOpts, host.WithTarget(opts.Target))
	}
	m.hostOpts = hostOpts
	m.host = host.New(name, hostOpts...)
	return m, nil
}

// Open reads, compiles and mounts the template file at path into the
// subject of doc. Imports resolve relative to the file.
func Open(ctx context.Context, doc *dom.Document, subject, path string, opts Options) (*Mount, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound, "cannot read template").
			WithLocation(path, 0, 0)
	}
	if opts.Base == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound, "cannot resolve template path")
		}
		opts.Base = abs
	}

	m, err := New(doc, subject, filepath.Base(path), opts)
	if err != nil {
		return nil, err
	}
	if err := m.Compile(ctx, string(text)); err != nil {
		if m.Host().Fallback() {
			// The error overlay is mounted instead; the caller decides
			// whether a template error is fatal.
			return m, err
		}
		m.Close()
		return nil, err
	}
	return m, nil
}

// Compile compiles the template text. A template that fails to compile is
// replaced by an error overlay; the compile error is still returned.
func (m *Mount) Compile(ctx context.Context, text string) error {
	return m.Host().Compile(ctx, text)
}

// Reload replaces the template with a fresh compilation of text. The
// subject keeps its content until the next Render, which is reconciled
// against it like any other render.
func (m *Mount) Reload(ctx context.Context, text string) error {
	next := host.New(m.name, m.hostOpts...)

	m.mutex.Lock()
	old := m.host
	m.host = next
	m.mutex.Unlock()

	old.Close()
	return next.Compile(ctx, text)
}

// Render waits for the template to be ready, renders it with args and
// reconciles the output into the subject.
func (m *Mount) Render(ctx context.Context, args ...interface{}) error {
	h := m.Host()
	if err := h.Wait(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	m.updateErr = nil
	m.mutex.Unlock()

	if _, err := h.Run(ctx, args...); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.updateErr
}

// Invoke runs the invokable key with the event snapshot of a client.
// Re-renders it causes are reconciled on the host's schedule.
func (m *Mount) Invoke(ctx context.Context, key, signature string, event frame.Event) error {
	return m.registry.Invoke(ctx, key, signature, event)
}

// Subscribe registers fn for every applied batch of update records and
// returns a func removing it.
func (m *Mount) Subscribe(fn func([]reconcile.Record)) (unsubscribe func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	id := m.next
	m.next++
	m.subscribers[id] = fn
	return func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		delete(m.subscribers, id)
	}
}

// rendered reconciles a render. Scheduled re-renders land here too.
func (m *Mount) rendered(output string) {
	err := m.manager.Update(context.Background(), output)
	if err != nil {
		m.logger.Warn(context.Background(), err, "Reconciliation incomplete")
	}
	m.mutex.Lock()
	m.updateErr = err
	m.mutex.Unlock()
}

func (m *Mount) publish(records []reconcile.Record) {
	m.mutex.Lock()
	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]reconcile.Record), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subscribers[id])
	}
	m.mutex.Unlock()

	for _, fn := range fns {
		fn(records)
	}
}

// Params returns the declared parameters of the compiled template.
func (m *Mount) Params() []string {
	if u := m.Host().Unit(); u != nil {
		return u.Params()
	}
	return nil
}

// Host returns the current execution host.
func (m *Mount) Host() *host.Host {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.host
}

// Document returns the live document.
func (m *Mount) Document() *dom.Document { return m.doc }

// Subject returns the subject id.
func (m *Mount) Subject() string { return m.manager.Subject() }

// HTML renders the live subject content.
func (m *Mount) HTML() string {
	if n := m.doc.ByID(m.manager.Subject()); n != nil {
		return m.doc.Inner(n)
	}
	return ""
}

// Keys returns the invocation keys the live subject holds, in document
// order. Rendered markup escapes the quotes of invocation snippets, so the
// keys are read from unescaped text.
func (m *Mount) Keys() []string {
	return invoke.Keys(html.UnescapeString(m.HTML()))
}

// Close stops re-rendering.
func (m *Mount) Close() {
	m.Host().Close()
}
