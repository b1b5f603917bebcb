package websocket

import (
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/types"
	"go.uber.org/zap"
)

// StatusProvider supplies the system_status message sent to new clients.
type StatusProvider interface {
	GetStatus() any
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// Guards clients for readers outside Run
	mu sync.RWMutex

	logger *zap.Logger

	// nil when authentication is disabled
	authService *auth.AuthService

	statusProvider StatusProvider
}

// NewHub creates a new Hub instance. With a nil authService clients are
// accepted without an auth message.
func NewHub(logger *zap.Logger, authService *auth.AuthService) *Hub {
	return &Hub{
		broadcast:   make(chan Message, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		logger:      logger,
		authService: authService,
	}
}

// SetStatusProvider must be called before Run.
func (h *Hub) SetStatusProvider(provider StatusProvider) {
	h.statusProvider = provider
}

// Run starts the hub's main event loop. It returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.remoteAddr),
				zap.Int("total_clients", total))

			if h.statusProvider != nil {
				h.sendTo(client, NewSystemStatusMessage(h.statusProvider.GetStatus()))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message.Device) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendTo is only called from Run.
func (h *Hub) sendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Stop ends Run and disconnects all clients. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

func (h *Hub) PublishState(deviceName string, state, previous device.State) {
	h.Broadcast(NewDeviceStateMessage(deviceName, state.String(), previous.String()))
}

func (h *Hub) PublishValue(v types.AttributeValue) {
	h.Broadcast(NewAttributeValueMessage(v))
}

func (h *Hub) PublishError(deviceName, attribute string, err error) {
	h.Broadcast(NewAttributeErrorMessage(deviceName, attribute, err))
}

func (h *Hub) PublishSystemStatus(status any) {
	h.Broadcast(NewSystemStatusMessage(status))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
