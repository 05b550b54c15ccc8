package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 50 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Buffered updates per client before it counts as too slow.
	sendBuffer = 64
)

// Client is a connected page.
type Client struct {
	conn      *websocket.Conn
	send      chan UpdateMessage
	server    *Server
	closeOnce sync.Once
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// checkOrigin has vetted the origin against the allow-list
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:   conn,
		send:   make(chan UpdateMessage, sendBuffer),
		server: s,
	}
	s.register(c)
	defer s.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// checkOrigin accepts requests without an Origin header (non-browser
// peers such as a Relay) and browser origins on the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	port := strconv.Itoa(s.config.Server.Port)
	allowed := append([]string{
		net.JoinHostPort(s.config.Server.Host, port),
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port),
		r.Host,
	}, s.config.Server.AllowedOrigins...)

	if err := validation.ValidateOrigin(origin, allowed); err != nil {
		s.logger.Warn(r.Context(), err, "Rejected websocket origin", "origin", origin)
		return false
	}
	return true
}

func (s *Server) register(c *Client) {
	s.clientsMutex.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.clientsMutex.Unlock()
	s.logger.Debug(context.Background(), "Client connected", "clients", n)
}

func (s *Server) unregister(c *Client) {
	s.clientsMutex.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	n := len(s.clients)
	s.clientsMutex.Unlock()
	c.close("")
	s.logger.Debug(context.Background(), "Client disconnected", "clients", n)
}

// readPump runs invocations sent by the client until the connection
// closes. Failed invocations are reported back to the client only.
func (c *Client) readPump(ctx context.Context) {
	for {
		var msg InvokeMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.server.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}

		if err := c.server.invoke(ctx, msg); err != nil {
			c.server.logger.Warn(ctx, err, "Invocation failed", "key", msg.Key)
			c.queue(UpdateMessage{Type: TypeError, Error: err.Error(), Timestamp: time.Now()})
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.close("write failed")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.close("ping failed")
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// queue sends msg to this client only. It never blocks.
func (c *Client) queue(msg UpdateMessage) {
	c.server.clientsMutex.RLock()
	defer c.server.clientsMutex.RUnlock()
	if _, ok := c.server.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		if reason == "" {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		_ = c.conn.Close(websocket.StatusGoingAway, reason)
	})
}

func (s *Server) invoke(ctx context.Context, msg InvokeMessage) error {
	if msg.Key == "" {
		return errors.NewValidationError(errors.ErrCodeUnknownInvokable, "invocation without a key")
	}
	if err := s.mount.Invoke(ctx, msg.Key, msg.Signature, msg.Event); err != nil {
		return fmt.Errorf("invoke %s: %w", msg.Key, err)
	}
	return nil
}
