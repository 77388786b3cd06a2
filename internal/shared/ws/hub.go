package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// authTimeout is how long a client has to present a token after connect.
	authTimeout = 5 * time.Second

	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8192
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the dashboard hosts are fixed.
		return true
	},
}

// ErrNotConnected is returned when no socket exists for the target user.
var ErrNotConnected = errors.New("user not connected")

// AuthFunc validates a handshake token and returns the caller's identity.
type AuthFunc func(token string) (userID, role string, err error)

// MessageHandler processes a typed message sent by a connected client.
type MessageHandler func(client *Client, messageType string, data json.RawMessage) error

// Client is one authenticated WebSocket connection.
type Client struct {
	ID     string
	UserID string
	Role   string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	log    zerolog.Logger
}

// Hub tracks all live connections for one service and fans messages out to
// them by user or role.
type Hub struct {
	clients        map[string]*Client
	mu             sync.RWMutex
	register       chan *Client
	unregister     chan *Client
	broadcast      chan []byte
	authFunc       AuthFunc
	messageHandler MessageHandler
	log            zerolog.Logger
}

func NewHub(authFunc AuthFunc, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 10),
		unregister: make(chan *Client, 10),
		broadcast:  make(chan []byte, 256),
		authFunc:   authFunc,
		log:        log,
	}
}

// SetMessageHandler installs the handler for inbound client messages. Must be
// called before Run.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// Run is the hub's main loop; run it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("action", "hub_stopped").Msg("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Info().
				Str("action", "client_registered").
				Str("client_id", client.ID).
				Str("user_id", client.UserID).
				Str("role", client.Role).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Info().
				Str("action", "client_unregistered").
				Str("client_id", client.ID).
				Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Error().Str("action", "broadcast_dropped").Msg("broadcast channel full")
	}
}

// SendToUser delivers a message to every connection of one user.
func (h *Hub) SendToUser(userID string, message []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false
	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.send <- message:
			sent = true
		default:
			h.log.Error().
				Str("action", "send_to_user_failed").
				Str("user_id", userID).
				Str("client_id", client.ID).
				Msg("send buffer full")
		}
	}
	if !sent {
		return ErrNotConnected
	}
	return nil
}

// SendToRole delivers a message to every connection with the given role.
func (h *Hub) SendToRole(role string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.Role != role {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.log.Error().
				Str("action", "send_to_role_failed").
				Str("role", role).
				Str("client_id", client.ID).
				Msg("send buffer full")
		}
	}
}

// IsUserConnected reports whether at least one socket exists for the user.
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// SendTypedMessage wraps data in a {type, data} envelope and sends it to a user.
func (h *Hub) SendTypedMessage(userID, msgType string, data any) error {
	body, err := json.Marshal(map[string]any{
		"type": msgType,
		"data": data,
	})
	if err != nil {
		return err
	}
	return h.SendToUser(userID, body)
}

// ServeWS upgrades an HTTP request and runs the auth handshake: the first
// client frame must be {"token": "..."} within authTimeout.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Str("action", "ws_upgrade_failed").Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		log:  h.log,
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))

	var authMsg struct {
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authMsg); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "auth timeout"))
		_ = conn.Close()
		h.log.Warn().Str("action", "ws_auth_failed").Msg("no auth message received")
		return
	}

	userID, role, err := h.authFunc(authMsg.Token)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid token"})
		_ = conn.Close()
		h.log.Warn().Str("action", "ws_auth_invalid_token").Err(err).Msg("token rejected")
		return
	}

	client.UserID = userID
	client.Role = role

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.register <- client

	_ = conn.WriteJSON(map[string]string{"status": "authenticated", "user_id": userID})

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().
					Str("action", "ws_read_error").
					Str("client_id", c.ID).
					Err(err).
					Msg("read failed")
			}
			break
		}

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn().
				Str("action", "ws_parse_message_error").
				Str("client_id", c.ID).
				Err(err).
				Msg("bad client frame")
			continue
		}

		if c.hub.messageHandler != nil {
			if err := c.hub.messageHandler(c, msg.Type, msg.Data); err != nil {
				c.log.Error().
					Str("action", "ws_handle_message_error").
					Str("client_id", c.ID).
					Str("msg_type", msg.Type).
					Err(err).
					Msg("handler failed")
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
