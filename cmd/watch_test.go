package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/loom/internal/config"
	"github.com/conneroisu/loom/internal/reconcile"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost", Subject: "app"},
		Render: config.RenderConfig{Extensions: []string{".loom"}, Tick: time.Millisecond},
		Log:    config.LogConfig{Level: "error", Format: "text"},
	}
}

func TestWatchSessionReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "list.loom", `<ul id="l"><li id="a">a</li></ul>`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSession(ctx, testConfig(), AddStandardFlags(&cobra.Command{}, "render"), path, true)
	require.NoError(t, err)
	defer s.Close()

	batches := make(chan []reconcile.Record, 16)
	s.mount.Subscribe(func(rs []reconcile.Record) { batches <- rs })

	require.NoError(t, s.render(ctx))
	first := <-batches
	require.Len(t, first, 1)
	assert.Equal(t, reconcile.Hard, first[0].Kind)

	fw, err := watchSession(ctx, s, path)
	require.NoError(t, err)
	defer fw.Stop()

	writeTemplate(t, dir, "list.loom", `<ul id="l"><li id="a">a</li><li id="b">b</li></ul>`)

	select {
	case rs := <-batches:
		require.Len(t, rs, 1)
		assert.Equal(t, reconcile.Append, rs[0].Kind)
		assert.Equal(t, "b", rs[0].Target)
	case <-time.After(5 * time.Second):
		t.Fatal("no records after the template changed")
	}
	assert.Equal(t, `<ul id="l"><li id="a">a</li><li id="b">b</li></ul>`, s.mount.HTML())
}

func TestWatchSessionShowsOverlayForBrokenEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "p.loom", `<p id="p">fine</p>`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSession(ctx, testConfig(), AddStandardFlags(&cobra.Command{}, "render"), path, true)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.render(ctx))

	fw, err := watchSession(ctx, s, path)
	require.NoError(t, err)
	defer fw.Stop()

	writeTemplate(t, dir, "p.loom", `<p id="p">${ broken </p>`)
	assert.Eventually(t, func() bool { return s.mount.Host().Fallback() }, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(s.mount.HTML()), []byte("ERR_UNTERMINATED_SPAN"))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRecordPrinter(t *testing.T) {
	records := []reconcile.Record{
		{Kind: reconcile.Remove, Target: "a"},
		{Kind: reconcile.Hard, Target: "b"},
	}

	var text bytes.Buffer
	recordPrinter(&text, "text")(records)
	assert.Equal(t, "remove #a\nhard #b\n", text.String())

	var js bytes.Buffer
	recordPrinter(&js, "json")(records)
	assert.JSONEq(t, `[{"kind":"remove","target":"a"},{"kind":"hard","target":"b"}]`, js.String())
}
