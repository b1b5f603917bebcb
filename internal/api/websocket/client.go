package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id         uuid.UUID
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string

	// registered is only touched by the goroutine driving registration
	registered bool
	identity   auth.Identity

	mu      sync.RWMutex
	devices map[string]bool
}

// wants reports whether the client subscribed to deviceName. Messages
// without a device and clients without a subscription always match.
func (c *Client) wants(deviceName string) bool {
	if deviceName == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices) == 0 || c.devices[strings.ToLower(deviceName)]
}

func (c *Client) subscribe(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = make(map[string]bool, len(names))
	for _, name := range names {
		c.devices[strings.ToLower(name)] = true
	}
}

// join hands the client to the hub. It fails once the hub is stopped.
func (c *Client) join() bool {
	select {
	case c.hub.register <- c:
		c.registered = true
		return true
	case <-c.hub.done:
		return false
	}
}

// leave releases the send channel; writePump then closes the connection.
func (c *Client) leave() {
	if !c.registered {
		close(c.send)
		return
	}
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.leave()

	c.conn.SetReadLimit(maxMessageSize)

	if c.registered {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			return
		}

		// First message MUST be authentication when auth is enabled
		if !c.registered {
			if !c.authenticate(msg) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if !c.join() {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.queue(NewMessage(MessageTypeAuthFailed, "First message must be authentication"))
		return false
	}
	if msg.Token == "" {
		c.queue(NewMessage(MessageTypeAuthFailed, "Missing token in auth message"))
		return false
	}

	identity, err := c.hub.authService.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.queue(NewMessage(MessageTypeAuthFailed, "Invalid or expired token"))
		return false
	}

	c.identity = identity
	c.queue(NewMessage(MessageTypeAuthSuccess, identity.Permissions))
	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id.String()),
		zap.String("subject", identity.Subject))
	return true
}

// queue is only used before the client joins the hub.
func (c *Client) queue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Devices)
		c.logger.Debug("WebSocket client subscribed",
			zap.String("client_id", c.id.String()),
			zap.Strings("devices", msg.Devices))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("client_id", c.id.String()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:         uuid.New(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}

	if hub.authService == nil && !client.join() {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
