// Package host runs compiled templates. A Host owns the readiness state
// machine of one unit, binds its imports and inputs, records the model
// properties each render reads and schedules a coalesced re-render when
// one of them changes.
package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/instruction"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/notify"
	"github.com/conneroisu/loom/internal/resolver"
	"github.com/conneroisu/loom/internal/unit"
	"github.com/conneroisu/loom/pkg/frame"
)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithResolver sets the import resolver. Hosts sharing a resolver share
// its cache.
func WithResolver(r *resolver.Resolver) Option {
	return func(h *Host) { h.resolver = r }
}

// WithRegistry sets the invokable registry pokes register into.
func WithRegistry(r *invoke.Registry) Option {
	return func(h *Host) { h.registry = r }
}

// WithBus sets the notification bus.
func WithBus(b *notify.Bus) Option {
	return func(h *Host) { h.bus = b }
}

// WithSelf sets the call target templates render against.
func WithSelf(self frame.Target) Option {
	return func(h *Host) { h.self = self }
}

// WithScheduler sets the re-render scheduler.
func WithScheduler(s Scheduler) Option {
	return func(h *Host) { h.scheduler = s }
}

// WithStateHandler sets the handler called synchronously on every state
// change. The handler may call Run but must not change inputs.
func WithStateHandler(fn func(State)) Option {
	return func(h *Host) { h.onState = fn }
}

// WithRenderHandler sets the handler called with every successful render.
func WithRenderHandler(fn func(output string)) Option {
	return func(h *Host) { h.onRender = fn }
}

// WithDiagnostics sets a mount step run before compiling. The host is in
// StateLoading while it runs.
func WithDiagnostics(fn func(ctx context.Context) error) Option {
	return func(h *Host) { h.diagnostics = fn }
}

// WithBase sets the reference imports are resolved against.
func WithBase(base string) Option {
	return func(h *Host) { h.base = base }
}

// WithTarget sets the target context imports are cached under.
func WithTarget(target string) Option {
	return func(h *Host) { h.target = target }
}

// Host executes one compiled unit.
type Host struct {
	name        string
	logger      logging.Logger
	resolver    *resolver.Resolver
	registry    *invoke.Registry
	bus         *notify.Bus
	self        frame.Target
	scheduler   Scheduler
	onState     func(State)
	onRender    func(string)
	diagnostics func(context.Context) error
	base        string
	target      string

	unit       *unit.Unit
	fallback   bool
	inputs     *resolver.Inputs
	imports    map[string]*resolver.Resolved
	resolving  chan struct{}
	resolveErr error
	state      State
	tracked    map[string]struct{}
	pending    bool
	args       []interface{}
	rendered   bool
	output     string
	renders    int
	unsub      func()
	mutex      sync.Mutex

	// transition serializes state evaluation and handler calls.
	transition sync.Mutex
}

// New creates a host for the template called name.
func New(name string, opts ...Option) *Host {
	h := &Host{
		name:    name,
		imports: make(map[string]*resolver.Resolved),
		tracked: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	h.logger = h.logger.WithComponent("host").With("unit", name)
	if h.registry == nil {
		h.registry = invoke.NewRegistry(h.logger)
	}
	if h.bus == nil {
		h.bus = notify.NewBus()
	}
	if h.self == nil {
		h.self = notify.NewModel(h.bus, "", nil)
	}
	if h.scheduler == nil {
		h.scheduler = TickScheduler{Tick: DefaultTick}
	}
	if h.resolver == nil {
		h.resolver = resolver.New(resolver.DefaultLoader(), h.logger)
	}

	h.unsub = h.bus.Subscribe(notify.Change, h.changed)
	return h
}

// Compile compiles text and starts resolving its imports; ctx bounds the
// resolution. When text does not compile the host substitutes an error
// overlay template, stays usable and returns the compile error. A failing
// overlay is fatal.
func (h *Host) Compile(ctx context.Context, text string) error {
	h.mutex.Lock()
	compiled := h.unit != nil
	h.mutex.Unlock()
	if compiled {
		return alreadyCompiled(h.name)
	}

	if h.diagnostics != nil {
		h.transitionTo(StateLoading)
		if err := h.diagnostics(ctx); err != nil {
			h.logger.Warn(ctx, err, "Diagnostic mount failed")
		}
	}
	h.transitionTo(StateWorking)

	u, compileErr := unit.Compile(h.name, text)
	fallback := false
	if compileErr != nil {
		h.logger.Error(ctx, compileErr, "Template does not compile, rendering error overlay",
			"source", errors.SourceOf(compileErr))

		overlay, err := unit.Compile(h.name, errors.FallbackTemplate(compileErr))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeCompile, errors.ErrCodeFallbackLoop,
				fmt.Sprintf("error overlay for %s does not compile", h.name))
		}
		u, fallback = overlay, true
	}

	h.mutex.Lock()
	if h.unit != nil {
		h.mutex.Unlock()
		return alreadyCompiled(h.name)
	}
	h.unit = u
	h.fallback = fallback
	h.inputs = resolver.NewInputs(h.bus, u.Inputs(), h.inputChanged)
	h.resolving = make(chan struct{})
	h.mutex.Unlock()

	if len(u.Imports()) == 0 {
		close(h.resolving)
	} else {
		go h.resolve(ctx, u)
	}

	h.evaluate()
	return compileErr
}

func alreadyCompiled(name string) error {
	return errors.NewValidationError(errors.ErrCodeAlreadyCompiled,
		fmt.Sprintf("host %s is already compiled", name))
}

func (h *Host) resolve(ctx context.Context, u *unit.Unit) {
	defer close(h.resolving)

	_, err := h.resolver.Resolve(ctx, h.base, u.Imports(), h.target, func(name string, dep *resolver.Resolved) {
		h.mutex.Lock()
		h.imports[name] = dep
		h.mutex.Unlock()
		h.evaluate()
	})
	if err != nil {
		h.logger.Error(ctx, err, "Import resolution failed")
		h.mutex.Lock()
		h.resolveErr = err
		h.mutex.Unlock()
	}
}

// Wait blocks until import resolution has finished and returns its error.
func (h *Host) Wait(ctx context.Context) error {
	h.mutex.Lock()
	ch := h.resolving
	h.mutex.Unlock()
	if ch == nil {
		return errors.NewValidationError(errors.ErrCodeNotCompiled,
			fmt.Sprintf("host %s is not compiled", h.name))
	}

	select {
	case <-ch:
		h.mutex.Lock()
		defer h.mutex.Unlock()
		return h.resolveErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) readyLocked() bool {
	if h.unit == nil {
		return false
	}
	for _, d := range h.unit.Imports() {
		if _, ok := h.imports[d.Name]; !ok {
			return false
		}
	}
	return h.inputs == nil || h.inputs.Satisfied()
}

func (h *Host) evaluate() {
	h.transition.Lock()
	defer h.transition.Unlock()

	h.mutex.Lock()
	next := StateWaiting
	if h.readyLocked() {
		next = StateReady
	}
	h.mutex.Unlock()
	h.apply(next)
}

func (h *Host) transitionTo(s State) {
	h.transition.Lock()
	defer h.transition.Unlock()
	h.apply(s)
}

// apply must be called with transition held.
func (h *Host) apply(s State) {
	h.mutex.Lock()
	prev := h.state
	h.state = s
	h.mutex.Unlock()
	if prev == s {
		return
	}

	h.logger.Debug(context.Background(), "State changed", "from", prev.String(), "to", s.String())
	if h.onState != nil {
		h.onState(s)
	}
}

// Run renders the unit with args, one per declared parameter in order.
// Nil arguments are allowed; missing ones are not. Every property read
// during the render is tracked for re-rendering.
func (h *Host) Run(ctx context.Context, args ...interface{}) (string, error) {
	h.mutex.Lock()
	u := h.unit
	switch {
	case u == nil:
		h.mutex.Unlock()
		return "", errors.NewValidationError(errors.ErrCodeNotCompiled,
			fmt.Sprintf("host %s is not compiled", h.name))
	case h.state != StateReady:
		state := h.state
		h.mutex.Unlock()
		return "", errors.NewValidationError(errors.ErrCodeNotReady,
			fmt.Sprintf("host %s is %s", h.name, state))
	}
	if h.fallback {
		args = nil
	} else if params := u.Params(); len(args) != len(params) {
		h.mutex.Unlock()
		return "", errors.NewValidationError(errors.ErrCodeBadArguments,
			fmt.Sprintf("host %s takes %d arguments, got %d", h.name, len(params), len(args)))
	}
	resolved := make(map[string]*resolver.Resolved, len(h.imports))
	for name, dep := range h.imports {
		resolved[name] = dep
	}
	h.mutex.Unlock()

	return h.execute(ctx, u, resolved, args)
}

func (h *Host) execute(ctx context.Context, u *unit.Unit, resolved map[string]*resolver.Resolved, args []interface{}) (string, error) {
	var (
		keys   []string
		keysMu sync.Mutex
	)
	register := func(fn func(frame.Event)) string {
		key := h.registry.Register(fn)
		keysMu.Lock()
		keys = append(keys, key)
		keysMu.Unlock()
		return key
	}
	opts := h.options(u.Imports(), resolved, register)

	var read map[string]struct{}
	out, err := func() (string, error) {
		tracker := h.bus.Track()
		defer func() { read = tracker.Stop() }()
		return u.Execute(opts, args)
	}()
	if err != nil {
		h.registry.RevokeAll(keys)
		h.logger.Error(ctx, err, "Render failed", "source", errors.SourceOf(err))
		return "", err
	}

	h.mutex.Lock()
	h.tracked = read
	h.args = args
	h.output = out
	h.rendered = true
	h.renders++
	h.mutex.Unlock()

	h.logger.Debug(ctx, "Rendered", "tracked", len(read), "invokables", len(keys))
	if h.onRender != nil {
		h.onRender(out)
	}
	return out, nil
}

// options builds the frame options for a unit with the given import
// declarations. Imported units get options built the same way from their
// own resolved imports.
func (h *Host) options(decls []instruction.Declaration, resolved map[string]*resolver.Resolved, register func(func(frame.Event)) string) frame.Options {
	opts := frame.Options{
		Self:      h.self,
		Imports:   make(map[string]frame.Func),
		Input:     h.Inputs().Get,
		Register:  register,
		Signature: h.registry.Signature(),
	}

	tags := make(map[string]*resolver.Resolved)
	for _, d := range decls {
		dep, ok := resolved[d.Name]
		if !ok {
			continue
		}
		switch d.Kind {
		case instruction.KindFunction:
			opts.Imports[d.Name] = dep.Unit.Func(func() frame.Options {
				return h.options(dep.Unit.Imports(), dep.Imports, register)
			})
		case instruction.KindTag:
			tags[d.Name] = dep
		}
	}

	opts.Tag = func(name string, bag frame.Attrs, content string) (string, error) {
		dep, ok := tags[name]
		if !ok {
			return "", errors.NewExecutionError(fmt.Sprintf("tag %q is not imported", name), nil)
		}
		tagOpts := h.options(dep.Unit.Imports(), dep.Imports, register)
		tagOpts.Attrs = bag
		tagOpts.Content = content

		// Tag parameters are filled from the bag by name.
		params := dep.Unit.Params()
		args := make([]interface{}, len(params))
		for i, p := range params {
			args[i] = bag[p]
		}
		return dep.Unit.Execute(tagOpts, args)
	}
	return opts
}

func (h *Host) changed(m notify.Message) {
	h.mutex.Lock()
	_, tracked := h.tracked[m.Key]
	if !tracked || h.pending {
		h.mutex.Unlock()
		return
	}
	h.pending = true
	h.mutex.Unlock()

	h.logger.Debug(context.Background(), "Re-render scheduled", "key", m.Key)
	h.scheduler.Schedule(h.fire)
}

func (h *Host) inputChanged(name string) {
	h.evaluate()

	h.mutex.Lock()
	schedule := h.rendered && !h.pending && h.state == StateReady
	if schedule {
		h.pending = true
	}
	h.mutex.Unlock()

	if schedule {
		h.logger.Debug(context.Background(), "Re-render scheduled", "input", name)
		h.scheduler.Schedule(h.fire)
	}
}

func (h *Host) fire() {
	h.mutex.Lock()
	h.pending = false
	ready := h.state == StateReady && h.rendered
	args := h.args
	h.mutex.Unlock()

	if !ready {
		h.logger.Debug(context.Background(), "Re-render dropped", "state", h.State().String())
		return
	}
	// Failures are logged by execute and leave the previous output live.
	_, _ = h.Run(context.Background(), args...)
}

// Close stops listening for changes and input announcements.
func (h *Host) Close() {
	h.unsub()
	h.mutex.Lock()
	inputs := h.inputs
	h.mutex.Unlock()
	if inputs != nil {
		inputs.Close()
	}
}

// Name returns the template name.
func (h *Host) Name() string { return h.name }

// State returns the current state.
func (h *Host) State() State {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.state
}

// Output returns the last successful render.
func (h *Host) Output() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.output
}

// Renders returns the number of successful renders.
func (h *Host) Renders() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.renders
}

// Fallback reports whether the host renders the error overlay.
func (h *Host) Fallback() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.fallback
}

// Unit returns the compiled unit, or nil.
func (h *Host) Unit() *unit.Unit {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.unit
}

// Inputs returns the declared inputs, or nil before Compile.
func (h *Host) Inputs() *resolver.Inputs {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.inputs
}

// Registry returns the invokable registry.
func (h *Host) Registry() *invoke.Registry { return h.registry }

// Bus returns the notification bus.
func (h *Host) Bus() *notify.Bus { return h.bus }

// Tracked returns the keys read by the last render, sorted.
func (h *Host) Tracked() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	out := make([]string, 0, len(h.tracked))
	for k := range h.tracked {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
