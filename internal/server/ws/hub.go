// Package ws streams position and ticker events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// DefaultReplayCount is how many recent position events a new client
	// receives when history is configured.
	DefaultReplayCount = 50
)

// defaultChannels are subscribed for every new client.
var defaultChannels = []string{domain.ChannelPositions, domain.ChannelTickers}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HistoryReader reads recent entries of a replayable event stream.
type HistoryReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// StatusFunc reports the bot status sent to clients on connect.
type StatusFunc func() domain.BotStatus

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is sent by clients to change their channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// envelope is the frame format sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

// Hub fans in-process events out to connected websocket clients. Each
// client receives only the channels it subscribed to; a slow client loses
// messages rather than stalling the others.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	status     StatusFunc
	history    HistoryReader
	replay     int
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. status may be nil.
func NewHub(status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// SetHistory makes new clients receive the last count position events read
// from r before live events.
func (h *Hub) SetHistory(r HistoryReader, count int) {
	h.history = r
	h.replay = count
}

// Run handles registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.ClientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.ClientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues payload for clients subscribed to channel. It never
// blocks; when the hub is saturated the message is dropped.
func (h *Hub) Publish(channel, typ string, payload any) {
	data, err := json.Marshal(envelope{Type: typ, Channel: channel, Payload: payload})
	if err != nil {
		h.logger.Warn("ws: marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full", slog.String("channel", channel))
	}
}

// OnPositionEvent publishes evt on the positions channel. It has the shape
// of a position listener.
func (h *Hub) OnPositionEvent(_ context.Context, evt domain.PositionEvent) {
	h.Publish(domain.ChannelPositions, string(evt.Type), evt)
}

// OnTicker publishes t on the tickers channel. It has the shape of a ticker
// flux handler.
func (h *Hub) OnTicker(_ context.Context, t domain.Ticker) error {
	h.Publish(domain.ChannelTickers, "ticker", t)
	return nil
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	c.sendInitialStatus()
	c.sendHistory(r.Context())

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		ch = strings.TrimSpace(ch)
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// sendInitialStatus lets clients mark the connection healthy before any
// event flows.
func (c *client) sendInitialStatus() {
	status := domain.BotStatus{}
	if c.hub.status != nil {
		status = c.hub.status()
	}
	msg, err := json.Marshal(envelope{Type: "bot_status", Payload: status})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// sendHistory replays recent position events so a client that connects
// mid-session sees the positions' latest transitions.
func (c *client) sendHistory(ctx context.Context) {
	h := c.hub
	if h.history == nil || h.replay <= 0 {
		return
	}
	msgs, err := h.history.StreamRead(ctx, domain.StreamPositions, "", h.replay)
	if err != nil {
		h.logger.Warn("ws: history read failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		data, err := json.Marshal(envelope{
			Type:    "position_replay",
			Channel: domain.ChannelPositions,
			Payload: json.RawMessage(m.Payload),
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// isSubscribed matches exact channel names and trailing-star prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
