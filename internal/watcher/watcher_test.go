package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFilters(t *testing.T) {
	assert.True(t, TemplateFilter("views/page.loom"))
	assert.True(t, TemplateFilter("index.html"))
	assert.False(t, TemplateFilter("main.go"))

	css := ExtensionFilter(".css")
	assert.True(t, css("a/b.css"))
	assert.False(t, css("a/b.loom"))

	assert.False(t, NoHiddenFilter("views/.page.loom.swp"))
	assert.False(t, NoHiddenFilter("views/page.loom~"))
	assert.True(t, NoHiddenFilter("views/page.loom"))

	assert.False(t, NoGitFilter("repo/.git/HEAD"))
	assert.True(t, NoGitFilter("repo/views/x.loom"))
}

func TestAddPath(t *testing.T) {
	w, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.NoError(t, w.AddPath(t.TempDir()))
	assert.Error(t, w.AddPath("/non/existent/path"))
	assert.ErrorContains(t, w.AddPath("../outside"), "traversal")
}

func TestWatcherReportsDebouncedTemplateChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "partials"), 0o755))

	w, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	w.AddFilter(TemplateFilter)
	w.AddFilter(NoHiddenFilter)
	require.NoError(t, w.AddRecursive(dir))

	var mutex sync.Mutex
	var batches [][]ChangeEvent
	w.AddHandler(func(events []ChangeEvent) error {
		mutex.Lock()
		defer mutex.Unlock()
		batches = append(batches, events)
		return nil
	})

	require.NoError(t, w.Start(context.Background()))

	page := filepath.Join(dir, "page.loom")
	part := filepath.Join(dir, "partials", "card.html")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(page, []byte{byte('a' + i)}, 0o644))
	}
	require.NoError(t, os.WriteFile(part, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		seen := map[string]bool{}
		for _, b := range batches {
			for _, ev := range b {
				seen[ev.Path] = true
			}
		}
		return seen[page] && seen[part]
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())

	mutex.Lock()
	defer mutex.Unlock()
	for _, b := range batches {
		paths := map[string]int{}
		for _, ev := range b {
			assert.NotEqual(t, "notes.txt", filepath.Base(ev.Path))
			paths[ev.Path]++
		}
		for p, n := range paths {
			assert.Equal(t, 1, n, "%s reported twice in one batch", p)
		}
	}
}

func TestDebouncerFlushKeepsLatestPerPath(t *testing.T) {
	d := &Debouncer{delay: time.Hour, output: make(chan []ChangeEvent, 1)}
	d.pending = []ChangeEvent{
		{Type: EventTypeCreated, Path: "b.loom"},
		{Type: EventTypeModified, Path: "a.loom"},
		{Type: EventTypeModified, Path: "b.loom"},
		{Type: EventTypeDeleted, Path: "a.loom"},
	}
	d.flush()

	got := <-d.output
	assert.Equal(t, []ChangeEvent{
		{Type: EventTypeDeleted, Path: "a.loom"},
		{Type: EventTypeModified, Path: "b.loom"},
	}, got)
	assert.Empty(t, d.pending)

	d.flush()
	assert.Empty(t, d.output, "an empty flush sends nothing")
}
