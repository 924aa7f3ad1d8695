package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/creator-leaderboard/internal/domain"
)

// Message types
const (
	MessageTypeRefresh     = "leaderboard_refresh"
	MessageTypeNewEntrants = "new_entrants"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string          `json:"type"`
	Platform  domain.Platform `json:"platform,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub maintains the set of active clients and pushes refresh results and
// new-entrant notifications to clients subscribed per platform.
type Hub struct {
	// Registered clients by platform
	clients map[domain.Platform]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	platform domain.Platform
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.Platform]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all platform subscriptions
				for platform, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, platform)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.platform]; !ok {
				h.clients[req.platform] = make(map[*Client]bool)
			}
			h.clients[req.platform][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "platform", req.platform)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.platform]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.platform)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "platform", req.platform)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// If message has a platform, only send to subscribed clients
	if message.Platform != "" {
		if clients, ok := h.clients[message.Platform]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastRefresh pushes a freshly refreshed top list to subscribers
func (h *Hub) BroadcastRefresh(platform domain.Platform, list *domain.TopList) {
	message := &Message{
		Type:      MessageTypeRefresh,
		Platform:  platform,
		Data:      list,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastNewEntrants pushes newly detected entrants to subscribers
func (h *Hub) BroadcastNewEntrants(platform domain.Platform, entrants []domain.NewEntrant) {
	message := &Message{
		Type:      MessageTypeNewEntrants,
		Platform:  platform,
		Data:      entrants,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a platform subscription
func (h *Hub) Subscribe(client *Client, platform domain.Platform) {
	h.subscribe <- &subscriptionRequest{
		client:   client,
		platform: platform,
	}
}

// Unsubscribe removes a client from a platform subscription
func (h *Hub) Unsubscribe(client *Client, platform domain.Platform) {
	h.unsubscribe <- &subscriptionRequest{
		client:   client,
		platform: platform,
	}
}

// GetSubscriberCount returns the number of subscribers for a platform
func (h *Hub) GetSubscriberCount(platform domain.Platform) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[platform]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
