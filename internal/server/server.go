// Package server serves a mounted template as a live page. Browsers load
// the page, send invocations over a websocket and receive the update
// records every re-render produces. Another loom process can deliver
// invocations it does not own to this endpoint through a Relay.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/loom/internal/config"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/internal/reconcile"
	"github.com/conneroisu/loom/internal/renderer"
	"github.com/conneroisu/loom/pkg/frame"
)

// UpdateMessage is sent to every connected client.
type UpdateMessage struct {
	Type      string             `json:"type"`
	Records   []reconcile.Record `json:"records,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Message types.
const (
	TypeRecords = "records"
	TypeError   = "error"
)

// InvokeMessage is sent by a client to run an invokable.
type InvokeMessage struct {
	Key       string      `json:"key"`
	Signature string      `json:"signature,omitempty"`
	Event     frame.Event `json:"event"`
}

// Server serves one mounted template.
type Server struct {
	config      *config.Config
	mount       *renderer.Mount
	logger      logging.Logger
	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex

	unsubscribe  func()
	shutdownOnce sync.Once
}

// New creates a server for mount. Records the mount applies are broadcast
// to connected clients from then on.
func New(cfg *config.Config, mount *renderer.Mount, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		config:  cfg,
		mount:   mount,
		logger:  logger.WithComponent("server"),
		clients: make(map[*Client]struct{}),
	}
	s.unsubscribe = mount.Subscribe(s.broadcastRecords)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return securityHeaders(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving", "addr", listener.Addr().String(), "subject", s.mount.Subject())

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(listener) }()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown disconnects every client and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.unsubscribe()

		s.clientsMutex.RLock()
		clients := make([]*Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.clientsMutex.RUnlock()
		for _, c := range clients {
			c.close("server shutting down")
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			err = server.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.mount.Document().Render(w); err != nil {
		s.logger.Error(r.Context(), err, "Rendering page failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.mount.Host()
	status := map[string]interface{}{
		"status":   "ok",
		"state":    h.State().String(),
		"renders":  h.Renders(),
		"fallback": h.Fallback(),
		"clients":  s.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error(r.Context(), err, "Encoding health failed")
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastRecords(records []reconcile.Record) {
	s.broadcast(UpdateMessage{Type: TypeRecords, Records: records, Timestamp: time.Now()})
}

// broadcast queues msg for every client. Clients that cannot keep up are
// disconnected; they reload the page to resynchronize.
func (s *Server) broadcast(msg UpdateMessage) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn(context.Background(), nil, "Client too slow, disconnecting")
			go c.close("client too slow")
		}
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
