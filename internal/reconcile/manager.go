package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/logging"
)

// Revoker deletes invokables whose keys leave the document.
type Revoker interface {
	Revoke(key string) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRevoker sets where keys of removed markup are revoked.
func WithRevoker(r Revoker) Option {
	return func(m *Manager) { m.revoker = r }
}

// WithRecordHandler sets a handler called with every applied batch.
func WithRecordHandler(fn func([]Record)) Option {
	return func(m *Manager) { m.onRecords = fn }
}

// Manager reconciles the renders of one subject element. It must not be
// shared between subjects.
type Manager struct {
	doc       *dom.Document
	node      *html.Node
	subject   string
	revoker   Revoker
	logger    logging.Logger
	onRecords func([]Record)

	previous *Snapshot
	last     string
	renders  int
	applying bool
	queued   *string
	mutex    sync.Mutex
}

// NewManager creates a manager for subject, an element of doc. A subject
// without an id is identified by a session key.
func NewManager(doc *dom.Document, subject *html.Node, opts ...Option) (*Manager, error) {
	if subject == nil || subject.Type != html.ElementNode || !doc.Contains(subject) {
		return nil, errors.NewReconcileError(errors.ErrCodeTargetNotFound, "subject is not an element of the document")
	}

	m := &Manager{doc: doc, node: subject, subject: dom.ID(subject)}
	if m.subject == "" {
		m.subject = "loom-" + uuid.NewString()
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	m.logger = m.logger.WithComponent("reconcile").With("subject", m.subject)
	return m, nil
}

// Subject returns the subject id or session key.
func (m *Manager) Subject() string { return m.subject }

// Renders returns the number of renders applied.
func (m *Manager) Renders() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.renders
}

// Update applies output to the subject. The first render replaces the
// subject content; later renders are diffed against the previous one.
// Output identical to the previous render is skipped. An Update issued
// while a batch is being applied is deferred until the batch completes;
// only the latest deferred output is applied.
func (m *Manager) Update(ctx context.Context, output string) error {
	m.mutex.Lock()
	if m.applying {
		if m.queued != nil {
			dropped := *m.queued
			defer m.revokeDetached(invoke.Keys(html.UnescapeString(dropped)))
		}
		m.queued = &output
		m.mutex.Unlock()
		m.logger.Debug(ctx, "Update deferred until the current batch completes")
		return nil
	}
	m.applying = true
	m.mutex.Unlock()

	collector := errors.NewErrorCollector()
	for {
		collector.Add(m.update(ctx, output))

		m.mutex.Lock()
		if m.queued == nil {
			m.applying = false
			m.mutex.Unlock()
			break
		}
		output = *m.queued
		m.queued = nil
		m.mutex.Unlock()
	}
	return collector.Err()
}

func (m *Manager) update(ctx context.Context, output string) error {
	if m.previous != nil && output == m.last {
		m.logger.Debug(ctx, "Output unchanged, skipping diff")
		return nil
	}

	snap, err := NewSnapshot(output, m.subject, m.node)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeReconcile, errors.ErrCodeInternalError, "cannot parse render output")
	}

	var records []Record
	switch {
	case m.previous == nil:
		records = complete([]Record{{Kind: Hard, Target: m.subject, Ancestors: []string{m.subject}}}, snap)
	case len(snap.Duplicates()) > 0:
		m.logger.Warn(ctx, nil, "Duplicate ids in render, replacing subject", "ids", snap.Duplicates())
		records = complete([]Record{{Kind: Hard, Target: m.subject, Ancestors: []string{m.subject}}}, snap)
	default:
		records = Diff(m.previous, snap)
	}

	m.previous = snap
	m.last = output
	m.mutex.Lock()
	m.renders++
	m.mutex.Unlock()

	m.logger.Debug(ctx, "Applying batch", "records", len(records))
	err = m.apply(ctx, records)

	// Records that were canceled or skipped leave keys of this render
	// outside the live subject.
	var rendered []string
	for k := range subtreeKeys(snap.Root) {
		rendered = append(rendered, k)
	}
	m.revokeDetached(rendered)
	return err
}

// revokeDetached revokes the keys that no attribute of the live subject
// holds.
func (m *Manager) revokeDetached(keys []string) {
	if m.revoker == nil || len(keys) == 0 {
		return
	}
	live := subtreeKeys(m.node)
	for _, k := range keys {
		if !live[k] {
			m.revoker.Revoke(k)
		}
	}
}

// lookup finds the live element for id within the subject.
func (m *Manager) lookup(id string) (*html.Node, error) {
	if id == m.subject {
		return m.node, nil
	}
	n := m.doc.ByID(id)
	if n == nil || !dom.Within(n, m.node) {
		return nil, errors.NewReconcileError(errors.ErrCodeTargetNotFound,
			fmt.Sprintf("no element #%s in subject #%s", id, m.subject)).WithContext("id", id)
	}
	return n, nil
}
