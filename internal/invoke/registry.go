// Package invoke holds the invokable registry: the closures created by poke
// spans during a render, addressed by generation-tagged keys that are
// embedded in the rendered markup.
package invoke

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/pkg/frame"
)

// Relay forwards an invocation to the execution context that owns key.
type Relay interface {
	Relay(ctx context.Context, key, signature string, event frame.Event) error
}

type slot struct {
	gen uint32
	fn  func(frame.Event)
}

// Registry is an arena of invokables. A key names a slot index and the
// generation the slot had when the closure was registered, so a revoked
// key never reaches a closure registered later in the same slot.
type Registry struct {
	slots     []slot
	free      []int
	live      int
	relay     Relay
	signature string
	logger    logging.Logger
	mutex     sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithRelay sets the relay used for invocations signed for another context.
func WithRelay(relay Relay) Option {
	return func(r *Registry) { r.relay = relay }
}

// WithSignature sets the signature of this registry's own context.
// Invocations carrying it run locally.
func WithSignature(signature string) Option {
	return func(r *Registry) { r.signature = signature }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{logger: logger.WithComponent("invoke")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Signature returns the registry's own context signature.
func (r *Registry) Signature() string { return r.signature }

// Register stores fn and returns its key.
func (r *Registry) Register(fn func(frame.Event)) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var index int
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		index = len(r.slots) - 1
	}
	s := &r.slots[index]
	s.gen++
	s.fn = fn
	r.live++

	return formatKey(index, s.gen)
}

// Revoke deletes key. It reports whether the key was live.
func (r *Registry) Revoke(key string) bool {
	index, gen, ok := ParseKey(key)
	if !ok {
		return false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index >= len(r.slots) {
		return false
	}
	s := &r.slots[index]
	if s.gen != gen || s.fn == nil {
		return false
	}
	s.fn = nil
	r.free = append(r.free, index)
	r.live--
	return true
}

// RevokeAll revokes every key and returns how many were live.
func (r *Registry) RevokeAll(keys []string) int {
	n := 0
	for _, key := range keys {
		if r.Revoke(key) {
			n++
		}
	}
	return n
}

// Len returns the number of live keys.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.live
}

// Invoke runs the closure registered under key with the event snapshot.
// A signature naming another context hands the call to the relay.
func (r *Registry) Invoke(ctx context.Context, key, signature string, event frame.Event) (err error) {
	if signature != "" && signature != r.signature {
		if r.relay == nil {
			return errors.NewValidationError(errors.ErrCodeUnknownInvokable,
				fmt.Sprintf("no relay for signature %q", signature)).WithContext("key", key)
		}
		return r.relay.Relay(ctx, key, signature, event)
	}

	fn, ok := r.lookup(key)
	if !ok {
		return errors.NewValidationError(errors.ErrCodeUnknownInvokable,
			fmt.Sprintf("unknown invokable %q", key)).WithContext("key", key)
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.NewExecutionError(fmt.Sprintf("invokable %s panicked", key), panicError(p)).
				WithContext("key", key)
			r.logger.Error(ctx, err, "Invocation failed", "key", key, "event", event.Type)
		}
	}()

	r.logger.Debug(ctx, "Invoking", "key", key, "event", event.Type)
	fn(event)
	return nil
}

func (r *Registry) lookup(key string) (func(frame.Event), bool) {
	index, gen, ok := ParseKey(key)
	if !ok {
		return nil, false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if index >= len(r.slots) {
		return nil, false
	}
	s := r.slots[index]
	if s.gen != gen || s.fn == nil {
		return nil, false
	}
	return s.fn, true
}

var (
	keyPattern     = regexp.MustCompile(`^h(\d+)g(\d+)$`)
	snippetPattern = regexp.MustCompile(regexp.QuoteMeta(frame.SnippetPrefix) + `(h\d+g\d+)'`)
)

func formatKey(index int, gen uint32) string {
	return "h" + strconv.Itoa(index) + "g" + strconv.FormatUint(uint64(gen), 10)
}

// ParseKey splits a key into its slot index and generation.
func ParseKey(key string) (int, uint32, bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	gen, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return index, uint32(gen), true
}

// Keys returns every invocation key embedded in text, in order.
func Keys(text string) []string {
	var keys []string
	for _, m := range snippetPattern.FindAllStringSubmatch(text, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

func panicError(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}
