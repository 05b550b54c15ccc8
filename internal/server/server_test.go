package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/loom/internal/config"
	"github.com/conneroisu/loom/internal/dom"
	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/invoke"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/notify"
	"github.com/conneroisu/loom/internal/reconcile"
	"github.com/conneroisu/loom/internal/renderer"
	"github.com/conneroisu/loom/pkg/frame"
)

const counter = `<div id="c"><button onclick="#{ self.Set("count", frame.Int(self.Get("count"))+1) }">${ self.Get("count") }</button></div>`

type fixture struct {
	server *Server
	mount  *renderer.Mount
	http   *httptest.Server
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
}

func newFixture(t *testing.T, registry *invoke.Registry) *fixture {
	t.Helper()
	ctx := context.Background()

	doc, err := dom.New(renderer.Page("counter", "app"))
	require.NoError(t, err)
	bus := notify.NewBus()
	model := notify.NewModel(bus, "m", map[string]interface{}{"count": 0})

	m, err := renderer.New(doc, "app", "counter", renderer.Options{
		Registry: registry,
		Bus:      bus,
		Self:     model,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	require.NoError(t, m.Compile(ctx, counter))
	require.NoError(t, m.Render(ctx))

	cfg := &config.Config{Server: config.ServerConfig{Host: "localhost", Port: 7331, Subject: "app"}}
	s := New(cfg, m, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return &fixture{server: s, mount: m, http: ts}
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestIndexServesLiveDocument(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	doc, err := dom.Parse(resp.Body)
	require.NoError(t, err)
	require.NotNil(t, doc.ByID("c"), "the rendered template is part of the page")
	assert.Contains(t, doc.String(), "window.loom")

	resp, err = http.Get(f.http.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(f.http.URL+"/", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ready", health["state"])
	assert.Equal(t, float64(1), health["renders"])
	assert.Equal(t, false, health["fallback"])
}

func TestInvocationBroadcastsRecords(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)
	observer := dial(t, f)
	require.Eventually(t, func() bool { return f.server.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	keys := f.mount.Keys()
	require.Len(t, keys, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, InvokeMessage{Key: keys[0], Event: frame.Event{Type: "click"}}))

	for _, c := range []*websocket.Conn{conn, observer} {
		var msg UpdateMessage
		require.NoError(t, wsjson.Read(ctx, c, &msg))
		assert.Equal(t, TypeRecords, msg.Type)
		require.Len(t, msg.Records, 1)
		assert.Equal(t, reconcile.Hard, msg.Records[0].Kind)
		assert.Equal(t, "c", msg.Records[0].Target)
		assert.Contains(t, msg.Records[0].HTML, ">1</button>")
	}
	assert.Contains(t, f.mount.HTML(), ">1</button>")
}

func TestFailedInvocationIsReportedToSender(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, key := range []string{"h99g1", ""} {
		require.NoError(t, wsjson.Write(ctx, conn, InvokeMessage{Key: key}))

		var msg UpdateMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		assert.Equal(t, TypeError, msg.Type)
		assert.Contains(t, msg.Error, errors.ErrCodeUnknownInvokable)
	}
	assert.Contains(t, f.mount.HTML(), ">0</button>", "nothing re-rendered")
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{logger: logging.NewNop(), config: &config.Config{Server: config.ServerConfig{
		Host:           "localhost",
		Port:           7331,
		AllowedOrigins: []string{"https://app.example.com", "dev.local:3000"},
	}}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:7331", true},
		{"http://127.0.0.1:7331", true},
		{"https://app.example.com", true},
		{"http://dev.local:3000", true},
		{"http://served.example:8080", true},
		{"http://evil.example", false},
		{"http://localhost:9999", false},
		{"file://localhost:7331", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://served.example:8080/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(r))
		})
	}

	s.config.Server.AllowedOrigins = []string{"*"}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://anywhere.example")
	assert.True(t, s.checkOrigin(r))
}

func TestRejectedOriginCannotConnect(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, f.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRelayDeliversToPeer(t *testing.T) {
	peer := newFixture(t, invoke.NewRegistry(nil, invoke.WithSignature("core")))
	keys := peer.mount.Keys()
	require.Len(t, keys, 1)

	local := invoke.NewRegistry(nil,
		invoke.WithSignature("edge"),
		invoke.WithRelay(NewRelay(map[string]string{"core": peer.wsURL()}, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, local.Invoke(ctx, keys[0], "core", frame.Event{Type: "click"}))

	assert.Eventually(t, func() bool {
		return strings.Contains(peer.mount.HTML(), ">1</button>")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := NewRelay(nil, nil)
	err := r.Relay(ctx, "h0g1", "core", frame.Event{})
	assert.ErrorIs(t, err, errors.ErrUnknownInvokable)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	r = NewRelay(map[string]string{"core": "ws://" + addr + "/ws"}, nil)
	err = r.Relay(ctx, "h0g1", "core", frame.Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), errors.ErrCodeRelayFailed)
}

func TestServeStopsWithContext(t *testing.T) {
	f := newFixture(t, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 0}}
	s := New(cfg, f.mount, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
