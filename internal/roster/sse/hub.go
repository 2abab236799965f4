package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventRatingUpdate = "rating_update" // 名册评分已更新
	EventRatingStale  = "rating_stale"  // 目录价格变动，评分待重算
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	RosterID  string `json:"roster_id"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client. An empty RosterID receives every
// roster's events.
type Client struct {
	ID       string
	UserID   string
	RosterID string
	Events   chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to its roster
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.RosterID != "" && client.RosterID != event.RosterID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
}

// RatingPayload rating_update 事件内容
type RatingPayload struct {
	RosterID    string `json:"roster_id"`
	Rating      int    `json:"rating"`
	StashRating int    `json:"stash_rating"`
	Currency    int    `json:"currency"`
	Wealth      int    `json:"wealth"`
}

// PublishRatingUpdate 名册评分已提交
func (h *Hub) PublishRatingUpdate(p RatingPayload) {
	data, _ := json.Marshal(p)
	h.Broadcast(Event{EventType: EventRatingUpdate, RosterID: p.RosterID, Data: string(data)})
}

// PublishRatingStale 价格变动后名册需要重算
func (h *Hub) PublishRatingStale(rosterID, changeID string) {
	data, _ := json.Marshal(map[string]string{"roster_id": rosterID, "change_id": changeID})
	h.Broadcast(Event{EventType: EventRatingStale, RosterID: rosterID, Data: string(data)})
}
