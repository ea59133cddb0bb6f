package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-jaw/internal/protocol"
	"github.com/teslashibe/go-jaw/internal/status"
)

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and relays status events
type WSHub struct {
	tracker *status.Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(tracker *status.Tracker, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		tracker: tracker,
		logger:  logger,
		clients: make(map[*websocket.Conn]*client),
		done:    make(chan struct{}),
	}
}

// Run relays tracker events to all clients until ctx is cancelled
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	if h.tracker == nil {
		<-ctx.Done()
		return
	}

	events := h.tracker.Subscribe()
	defer h.tracker.Unsubscribe(events)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := eventMessage(ev)
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func eventMessage(ev status.Event) (*protocol.Message, error) {
	snap := ev.Snapshot
	if ev.Kind == status.EventPhase {
		return protocol.NewPhaseMessage(protocol.PhaseData{
			Phase:         string(snap.Phase),
			Trigger:       snap.Trigger,
			Since:         snap.PhaseSince,
			VocalCycles:   snap.VocalCycles,
			AmbientCycles: snap.AmbientCycles,
		})
	}
	return protocol.NewJawMessage(snap.Loudness, snap.Target, snap.Applied)
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cl := range h.clients {
		if err := cl.write(data); err != nil {
			// Cleaned up when the read loop exits
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the status stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	cl := &client{conn: c}

	h.mu.Lock()
	h.clients[c] = cl
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		h.handleCommand(cl, msg)
	}
}

func (h *WSHub) handleCommand(cl *client, raw []byte) {
	cmd, err := protocol.ParseMessage(raw)
	if err != nil {
		h.reply(cl, protocol.TypeError, protocol.ErrorData{Message: err.Error()})
		return
	}

	switch cmd.Type {
	case protocol.TypePing:
		h.reply(cl, protocol.TypePong, nil)
	case protocol.TypeGetStats:
		if h.tracker != nil {
			h.reply(cl, protocol.TypeStats, h.tracker.Stats())
		}
	default:
		h.reply(cl, protocol.TypeError, protocol.ErrorData{Message: "unknown command " + string(cmd.Type)})
	}
}

func (h *WSHub) reply(cl *client, t protocol.MessageType, data interface{}) {
	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	b, err := msg.Bytes()
	if err != nil {
		return
	}
	if err := cl.write(b); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()
}
