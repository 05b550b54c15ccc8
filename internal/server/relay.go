package server

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/loom/internal/errors"
	"github.com/conneroisu/loom/internal/logging"
	"github.com/conneroisu/loom/pkg/frame"
)

const relayTimeout = 10 * time.Second

// Relay delivers invocations signed for another loom process to that
// process's websocket endpoint.
type Relay struct {
	peers  map[string]string
	logger logging.Logger
}

// NewRelay creates a relay over peers, a map from signature to websocket
// endpoint such as ws://host:7331/ws.
func NewRelay(peers map[string]string, logger logging.Logger) *Relay {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := make(map[string]string, len(peers))
	for signature, endpoint := range peers {
		p[signature] = endpoint
	}
	return &Relay{peers: p, logger: logger.WithComponent("relay")}
}

// Relay sends the invocation to the peer owning signature. The peer runs it
// asynchronously; failures on the peer side are not reported back.
func (r *Relay) Relay(ctx context.Context, key, signature string, event frame.Event) error {
	endpoint, ok := r.peers[signature]
	if !ok {
		return errors.NewValidationError(errors.ErrCodeUnknownInvokable,
			fmt.Sprintf("no peer for signature %q", signature)).WithContext("key", key)
	}

	ctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeRelayFailed, "cannot reach peer", err).
			WithContext("peer", endpoint)
	}
	defer conn.CloseNow()

	msg := InvokeMessage{Key: key, Signature: signature, Event: event}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return errors.NewIOError(errors.ErrCodeRelayFailed, "cannot deliver invocation", err).
			WithContext("peer", endpoint)
	}

	r.logger.Debug(ctx, "Relayed invocation", "key", key, "signature", signature, "peer", endpoint)
	return conn.Close(websocket.StatusNormalClosure, "")
}
