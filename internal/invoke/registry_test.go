package invoke

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/pkg/frame"
)

func TestRegisterInvokeRevoke(t *testing.T) {
	r := NewRegistry(logging.NewNop())
	ctx := context.Background()

	var got frame.Event
	key := r.Register(func(ev frame.Event) { got = ev })
	assert.Equal(t, "h0g1", key)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.Invoke(ctx, key, "", frame.Event{Type: "click", Value: "v", Checked: true}))
	assert.Equal(t, frame.Event{Type: "click", Value: "v", Checked: true}, got)

	assert.True(t, r.Revoke(key))
	assert.False(t, r.Revoke(key))
	assert.Equal(t, 0, r.Len())

	err := r.Invoke(ctx, key, "", frame.Event{})
	assert.ErrorIs(t, err, errors.ErrUnknownInvokable)
}

func TestRevokedSlotIsReusedWithNewGeneration(t *testing.T) {
	r := NewRegistry(nil)
	old := r.Register(func(frame.Event) {})
	require.True(t, r.Revoke(old))

	calls := 0
	fresh := r.Register(func(frame.Event) { calls++ })
	assert.Equal(t, "h0g2", fresh)

	assert.ErrorIs(t, r.Invoke(context.Background(), old, "", frame.Event{}), errors.ErrUnknownInvokable)
	require.NoError(t, r.Invoke(context.Background(), fresh, "", frame.Event{}))
	assert.Equal(t, 1, calls)
}

func TestInvokeMalformedKey(t *testing.T) {
	r := NewRegistry(nil)
	assert.ErrorIs(t, r.Invoke(context.Background(), "nope", "", frame.Event{}), errors.ErrUnknownInvokable)
	assert.ErrorIs(t, r.Invoke(context.Background(), "h9g1", "", frame.Event{}), errors.ErrUnknownInvokable)
	assert.False(t, r.Revoke("h9g1"))
}

func TestInvokeRecoversPanics(t *testing.T) {
	r := NewRegistry(nil)
	key := r.Register(func(frame.Event) { panic("boom") })

	err := r.Invoke(context.Background(), key, "", frame.Event{})
	require.Error(t, err)

	var le *errors.LoomError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, errors.ErrorTypeExecution, le.Type)
	assert.Contains(t, err.Error(), "boom")
}

type recordingRelay struct {
	calls []string
}

func (r *recordingRelay) Relay(_ context.Context, key, signature string, _ frame.Event) error {
	r.calls = append(r.calls, key+"@"+signature)
	return nil
}

func TestInvokeRelaysForeignSignatures(t *testing.T) {
	relay := &recordingRelay{}
	r := NewRegistry(nil, WithRelay(relay), WithSignature("home"))

	local := 0
	key := r.Register(func(frame.Event) { local++ })

	require.NoError(t, r.Invoke(context.Background(), key, "home", frame.Event{}))
	require.NoError(t, r.Invoke(context.Background(), "h7g3", "worker", frame.Event{}))

	assert.Equal(t, 1, local)
	assert.Equal(t, []string{"h7g3@worker"}, relay.calls)

	plain := NewRegistry(nil)
	assert.ErrorIs(t, plain.Invoke(context.Background(), key, "worker", frame.Event{}), errors.ErrUnknownInvokable)
}

func TestKeys(t *testing.T) {
	text := `<button onclick="` + frame.Snippet("h1g2", "") + `" onblur="` + frame.Snippet("h30g1", "sig") + `">h5g5</button>`
	assert.Equal(t, []string{"h1g2", "h30g1"}, Keys(text))
	assert.Empty(t, Keys("no keys here h1g1"))
}

func TestParseKey(t *testing.T) {
	index, gen, ok := ParseKey("h12g7")
	require.True(t, ok)
	assert.Equal(t, 12, index)
	assert.Equal(t, uint32(7), gen)

	for _, bad := range []string{"", "h", "hg", "h1", "g1", "h1g", "h-1g1", "h1g99999999999"} {
		_, _, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewRegistry(nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = make(map[string]bool)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := r.Register(func(frame.Event) {})
				mu.Lock()
				keys[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, keys, 800)
	assert.Equal(t, 800, r.Len())

	var all []string
	for k := range keys {
		all = append(all, k)
	}
	assert.Equal(t, 800, r.RevokeAll(all))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.RevokeAll([]string{fmt.Sprintf("h%dg1", 0)}))
}
