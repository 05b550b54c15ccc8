package resolver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/instruction"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/unit"
)

// Resolved is a compiled import together with its own resolved imports.
// Resolved values are cached and shared by every unit importing the same
// href in the same target context.
type Resolved struct {
	Href    string
	Unit    *unit.Unit
	Imports map[string]*Resolved
}

// Resolver resolves imports concurrently with a process-wide cache keyed
// by absolute href and target context.
type Resolver struct {
	loader Loader
	logger logging.Logger

	cache  map[string]*Resolved
	mutex  sync.RWMutex
	flight singleflight.Group
}

// New creates a resolver that fetches through loader.
func New(loader Loader, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		loader: loader,
		logger: logger.WithComponent("resolver"),
		cache:  make(map[string]*Resolved),
	}
}

// Resolve resolves every import in decls relative to base, one goroutine
// per import. onResolved is called as each import completes, in completion
// order. The returned map is keyed by import name.
func (r *Resolver) Resolve(ctx context.Context, base string, decls []instruction.Declaration, target string, onResolved func(name string, dep *Resolved)) (map[string]*Resolved, error) {
	return r.resolve(ctx, base, decls, target, nil, onResolved)
}

func (r *Resolver) resolve(ctx context.Context, base string, decls []instruction.Declaration, target string, chain []string, onResolved func(string, *Resolved)) (map[string]*Resolved, error) {
	var (
		out   = make(map[string]*Resolved)
		outMu sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range decls {
		d := d
		if !d.IsImport() {
			continue
		}
		g.Go(func() error {
			href, err := Abs(base, d.Href)
			if err != nil {
				return err
			}
			dep, err := r.load(gctx, href, target, chain)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeImportFailed,
					fmt.Sprintf("import %s (%s) failed", d.Name, d.Href))
			}

			outMu.Lock()
			out[d.Name] = dep
			outMu.Unlock()

			r.logger.Debug(gctx, "Import resolved", "name", d.Name, "href", href)
			if onResolved != nil {
				onResolved(d.Name, dep)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) load(ctx context.Context, href, target string, chain []string) (*Resolved, error) {
	key := cacheKey(href, target)
	for _, k := range chain {
		if k == key {
			return nil, errors.NewIOError(errors.ErrCodeImportFailed,
				fmt.Sprintf("import cycle through %s", href), nil)
		}
	}

	r.mutex.RLock()
	cached, ok := r.cache[key]
	r.mutex.RUnlock()
	if ok {
		return cached, nil
	}

	// The shared load outlives any one importer; each waiter gives up on its
	// own ctx below.
	shared := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key, func() (interface{}, error) {
		src, err := r.loader.Load(shared, href)
		if err != nil {
			return nil, err
		}
		u, err := unit.Compile(href, src.Text)
		if err != nil {
			return nil, err
		}

		next := append(append([]string(nil), chain...), key)
		imports, err := r.resolve(shared, href, u.Imports(), target, next, nil)
		if err != nil {
			return nil, err
		}

		dep := &Resolved{Href: href, Unit: u, Imports: imports}
		r.mutex.Lock()
		r.cache[key] = dep
		r.mutex.Unlock()
		return dep, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Resolved), nil
	case <-ctx.Done():
		return nil, errors.WrapIO(ctx.Err(), errors.ErrCodeImportFailed, fmt.Sprintf("resolving %s", href))
	}
}

// Cached returns the cached import for href in target, if any.
func (r *Resolver) Cached(href, target string) (*Resolved, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	dep, ok := r.cache[cacheKey(href, target)]
	return dep, ok
}

// Len returns the number of cached imports.
func (r *Resolver) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.cache)
}

// Forget drops href from the cache in every target context.
func (r *Resolver) Forget(href string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for key, dep := range r.cache {
		if dep.Href == href {
			delete(r.cache, key)
		}
	}
}

func cacheKey(href, target string) string {
	return href + "\x00" + target
}
