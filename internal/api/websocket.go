package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alexbotov/slotify-rgs/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu     sync.Mutex
	closed bool
}

// enqueue drops the message when the client is slow or gone
func (c *WSClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans settled rounds out to the connected clients of each player
type Hub struct {
	logger  zerolog.Logger
	clients prometheus.Gauge

	mu    sync.RWMutex
	users map[string]map[*WSClient]struct{}
}

// NewHub creates a hub. gauge may be nil.
func NewHub(gauge prometheus.Gauge, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "ws_hub").Logger(),
		clients: gauge,
		users:   make(map[string]map[*WSClient]struct{}),
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*WSClient]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	if h.clients != nil {
		h.clients.Inc()
	}
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
	}
	if h.clients != nil {
		h.clients.Dec()
	}
}

// Clients returns the number of connections open for userID
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Publish sends a round to its player's connections without blocking
func (h *Hub) Publish(record *domain.RoundRecord) {
	msg, err := encodeMessage("round", map[string]interface{}{
		"round_id":     record.RoundID,
		"game_id":      record.GameID,
		"game_type":    record.GameType,
		"bet_amount":   record.BetAmount,
		"win_amount":   record.WinAmount,
		"net_result":   record.NetResult(),
		"balance":      record.BalanceAfter,
		"is_free_spin": record.IsFreeSpin,
		"completed_at": record.CompletedAt,
		"hash":         record.Hash,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("round_id", record.RoundID).Msg("Failed to encode round message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[record.UserID] {
		if !c.enqueue(msg) {
			h.logger.Warn().
				Str("user_id", record.UserID).
				Str("round_id", record.RoundID).
				Msg("Dropped round message for slow client")
		}
	}
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.allowOrigin(origin) != ""
		},
	}
}

// HandleWebSocket handles GET /api/v1/ws/rounds, a live feed of the player's rounds
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	player := userID(r)

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", player).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: player,
	}
	h.hub.register(client)

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client requests until the connection drops
func (h *Handler) readPump(c *WSClient) {
	defer func() {
		h.hub.unregister(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.sendMessage(c, "connected", map[string]interface{}{
		"user_id": c.userID,
		"message": "Subscribed to round feed",
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("user_id", c.userID).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}
		h.handleWSMessage(c, &msg)
	}
}

// handleWSMessage processes incoming WebSocket messages
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	switch msg.Type {
	case "balance":
		balance, err := h.ledger.Balance(ctx, c.userID)
		if err != nil {
			h.sendError(c, "BALANCE_ERROR", "Failed to get balance")
			return
		}
		h.sendMessage(c, "balance", map[string]interface{}{
			"balance": balance,
		})

	case "ping":
		h.sendMessage(c, "pong", map[string]interface{}{
			"timestamp": time.Now().Unix(),
		})

	default:
		h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
	}
}

func (h *Handler) sendMessage(c *WSClient, msgType string, payload interface{}) {
	msg, err := encodeMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to encode message")
		return
	}
	c.enqueue(msg)
}

func (h *Handler) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, "error", map[string]string{
		"code":    code,
		"message": message,
	})
}
