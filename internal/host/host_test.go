package host

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/notify"
	"github.com/conneroisu/loom/internal/resolver"
	"github.com/conneroisu/loom/pkg/frame"
)

type memLoader struct {
	files map[string]string
	gate  chan struct{}
}

func (m memLoader) Load(ctx context.Context, ref string) (resolver.Source, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return resolver.Source{}, ctx.Err()
		}
	}
	text, ok := m.files[ref]
	if !ok {
		return resolver.Source{}, fmt.Errorf("no template at %s", ref)
	}
	return resolver.Source{Text: text, URL: ref}, nil
}

func memResolver(m memLoader) *resolver.Resolver {
	return resolver.New(resolver.MultiLoader{"mem": m}, nil)
}

type stateLog struct {
	states []State
	mutex  sync.Mutex
}

func (l *stateLog) record(s State) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]State(nil), l.states...)
}

func TestLifecycleStates(t *testing.T) {
	var log stateLog
	mounted := false
	h := New("plain",
		WithStateHandler(log.record),
		WithDiagnostics(func(context.Context) error {
			mounted = true
			return nil
		}))
	defer h.Close()

	assert.Equal(t, StateIdle, h.State())
	require.NoError(t, h.Compile(context.Background(), "<p>hi</p>"))
	require.NoError(t, h.Wait(context.Background()))

	assert.True(t, mounted)
	assert.Equal(t, []State{StateLoading, StateWorking, StateReady}, log.get())

	out, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", out)
}

func TestRunValidation(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	var log stateLog
	h := New("page",
		WithResolver(memResolver(memLoader{files: map[string]string{"mem:b": "<b>b</b>"}, gate: gate})),
		WithStateHandler(log.record))
	defer h.Close()

	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotCompiled)

	require.NoError(t, h.Compile(context.Background(), `<?function name="b" src="mem:b"?>
<?param name="x"?>
<p>${ b() }${ x }</p>`))
	assert.Equal(t, StateWaiting, h.State())

	_, err = h.Run(context.Background(), 1)
	assert.ErrorIs(t, err, errors.ErrNotReady)

	close(gate)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, StateReady, h.State())
	assert.Equal(t, []State{StateWorking, StateWaiting, StateReady}, log.get())

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrBadArguments)
	_, err = h.Run(context.Background(), 1, 2)
	assert.ErrorIs(t, err, errors.ErrBadArguments)
	assert.Equal(t, 0, h.Renders(), "validation happens before the render")

	out, err := h.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "<p><b>b</b></p>", out)

	assert.ErrorIs(t, h.Compile(context.Background(), "<p>again</p>"), errors.ErrAlreadyCompiled)
}

func TestResolutionFailureKeepsWaiting(t *testing.T) {
	h := New("page", WithResolver(memResolver(memLoader{files: map[string]string{}})))
	defer h.Close()

	require.NoError(t, h.Compile(context.Background(), `<?function name="gone" src="mem:gone"?>
<p>${ gone() }</p>`))
	err := h.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateWaiting, h.State())

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotReady)
}

func TestCompileFallback(t *testing.T) {
	h := New("broken")
	defer h.Close()

	err := h.Compile(context.Background(), `<?param name="x"?>
<p @>`)
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.True(t, h.Fallback())
	assert.Equal(t, StateReady, h.State())

	out, err := h.Run(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Contains(t, out, `id="loom-error-overlay"`)
	assert.Contains(t, out, errors.ErrCodeMalformedAttr)

	assert.ErrorIs(t, h.Compile(context.Background(), "<p>x</p>"), errors.ErrAlreadyCompiled)
}

func TestExecutionErrorKeepsPreviousOutput(t *testing.T) {
	reg := invoke.NewRegistry(nil)
	var outputs []string
	h := New("flaky", WithRegistry(reg), WithRenderHandler(func(out string) { outputs = append(outputs, out) }))
	defer h.Close()

	require.NoError(t, h.Compile(context.Background(), `<?param name="fail"?>
<button onclick="#{ self.Set("x", 1) }">go</button>
if frame.Str(fail) == "true" {
	panic("boom")
}`))

	good, err := h.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, err = h.Run(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NotEmpty(t, errors.SourceOf(err))

	assert.Equal(t, good, h.Output())
	assert.Equal(t, []string{good}, outputs)
	assert.Equal(t, 1, reg.Len(), "keys of the failed render are revoked")
}

func TestDependencyTracking(t *testing.T) {
	bus := notify.NewBus()
	model := notify.NewModel(bus, "m", map[string]interface{}{"p": 1, "q": 1})
	sched := &ManualScheduler{}

	h := New("tracked", WithBus(bus), WithSelf(model), WithScheduler(sched))
	defer h.Close()
	require.NoError(t, h.Compile(context.Background(), `<p>${ self.Get("p") }</p>`))

	_, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m.p"}, h.Tracked())

	model.Set("q", 2)
	assert.Equal(t, 0, sched.Pending(), "unread properties do not reschedule")

	model.Set("p", 2)
	model.Set("p", 3)
	model.Set("p", 4)
	assert.Equal(t, 1, sched.Pending(), "changes within one tick coalesce")

	assert.Equal(t, 1, sched.Flush())
	assert.Equal(t, 2, h.Renders())
	assert.Equal(t, "<p>4</p>", h.Output())

	model.Set("p", 5)
	assert.Equal(t, 1, sched.Pending(), "a new tick schedules again")
}

func TestScheduledRenderDroppedWhenWaiting(t *testing.T) {
	bus := notify.NewBus()
	model := notify.NewModel(bus, "m", map[string]interface{}{"p": 1})
	sched := &ManualScheduler{}

	h := New("inputs", WithBus(bus), WithSelf(model), WithScheduler(sched))
	defer h.Close()
	require.NoError(t, h.Compile(context.Background(), `<?input name="user" type="User" required="true"?>
<p>${ user } ${ self.Get("p") }</p>`))
	assert.Equal(t, StateWaiting, h.State())

	bus.Announce("User", "ada")
	assert.Equal(t, StateReady, h.State())

	out, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>ada 1</p>", out)

	model.Set("p", 2)
	require.Equal(t, 1, sched.Pending())

	h.Inputs().Unset("user")
	assert.Equal(t, StateWaiting, h.State())

	sched.Flush()
	assert.Equal(t, 1, h.Renders(), "the render scheduled before waiting is dropped")
}

func TestInputChangeRerenders(t *testing.T) {
	sched := &ManualScheduler{}
	h := New("inputs", WithScheduler(sched))
	defer h.Close()
	require.NoError(t, h.Compile(context.Background(), `<?input name="theme" type="Theme"?>
<p class="${ theme }">x</p>`))
	assert.Equal(t, StateReady, h.State(), "optional inputs do not gate readiness")

	out, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `<p class="">x</p>`, out)

	h.Bus().Announce("Theme", "dark")
	assert.Equal(t, 1, sched.Pending())
	sched.Flush()
	assert.Equal(t, `<p class="dark">x</p>`, h.Output())
}

func TestPokeInvocationRerenders(t *testing.T) {
	bus := notify.NewBus()
	model := notify.NewModel(bus, "counter", map[string]interface{}{"count": 0})
	sched := &ManualScheduler{}
	h := New("counter", WithBus(bus), WithSelf(model), WithScheduler(sched))
	defer h.Close()

	require.NoError(t, h.Compile(context.Background(),
		`<button onclick="#{ self.Set("count", frame.Int(self.Get("count"))+1) }">${ self.Get("count") }</button>`))

	out, err := h.Run(context.Background())
	require.NoError(t, err)
	keys := invoke.Keys(out)
	require.Len(t, keys, 1)

	require.NoError(t, h.Registry().Invoke(context.Background(), keys[0], "", frame.Event{Type: "click"}))
	require.Equal(t, 1, sched.Flush())
	assert.Contains(t, h.Output(), ">1</button>")
}

func TestImportsAndTags(t *testing.T) {
	loader := memLoader{files: map[string]string{
		"mem:shout": `<?param name="s"?>
<b>${ strings.ToUpper(frame.Str(s)) }</b>`,
		"mem:card": `<?param name="title"?>
<section><h2>${ title }</h2>${ f.Content() }</section>`,
	}}
	h := New("page", WithResolver(memResolver(loader)))
	defer h.Close()

	require.NoError(t, h.Compile(context.Background(), `<?function name="shout" src="mem:shout"?>
<?tag name="card" src="mem:card"?>
<:card {"title": "${ shout("hi") }"}>
	<p>body</p>
</:card>`))
	require.NoError(t, h.Wait(context.Background()))

	out, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `<section><h2><b>HI</b></h2><p>body</p></section>`, out)
}

func TestTickSchedulerCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := notify.NewBus()
	model := notify.NewModel(bus, "m", map[string]interface{}{"p": 0})
	var renders atomic.Int32
	h := New("ticked",
		WithBus(bus),
		WithSelf(model),
		WithScheduler(TickScheduler{Tick: 5 * time.Millisecond}),
		WithRenderHandler(func(string) { renders.Add(1) }))
	defer h.Close()

	require.NoError(t, h.Compile(context.Background(), `<p>${ self.Get("p") }</p>`))
	_, err := h.Run(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		model.Set("p", i)
	}
	require.Eventually(t, func() bool { return renders.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "<p>3</p>", h.Output())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), renders.Load())
}

func TestComponent(t *testing.T) {
	h := New("greet")
	defer h.Close()
	require.NoError(t, h.Compile(context.Background(), `<?param name="name"?>
<h1>hello ${ name }</h1>`))

	var buf bytes.Buffer
	require.NoError(t, h.Component("ada").Render(context.Background(), &buf))
	assert.Equal(t, "<h1>hello ada</h1>", buf.String())

	err := h.Component().Render(context.Background(), &buf)
	assert.ErrorIs(t, err, errors.ErrBadArguments)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", State(42).String())
}
