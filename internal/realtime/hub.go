package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// ChatGateway validates and applies incoming chat frames. Fan-out of the
// resulting events happens through the Redis bridge, not through the gateway's
// return values, so every instance (including this one) broadcasts exactly once.
type ChatGateway interface {
	CanAccess(ctx context.Context, activityID, userID uuid.UUID) (bool, error)
	HandleChatMessage(ctx context.Context, activityID, userID uuid.UUID, content string) error
	HandleDelivered(ctx context.Context, activityID, userID uuid.UUID, messageID string) error
	HandleSeen(ctx context.Context, activityID, userID uuid.UUID, messageID string) error
	HandleReaction(ctx context.Context, activityID, userID uuid.UUID, messageID, reaction string) error
}

// Hub maintains activity_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// activityID -> map[clientID]*Client
	rooms map[uuid.UUID]map[string]*Client
	subs  map[uuid.UUID]func() // cancel Redis subscription per activity
	// rooms whose Redis subscription failed; they get a direct local
	// broadcast on Publish instead of relying on the bridge
	local    map[uuid.UUID]bool
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishActivityEvent(activityID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to activity channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeActivity(activityID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		local:    make(map[uuid.UUID]bool),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to an activity room. Starts the Redis subscription
// for the activity when the first client joins.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.ActivityID] == nil {
		h.rooms[c.ActivityID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeActivity(c.ActivityID, func(event string, payload []byte) {
				h.BroadcastToActivity(c.ActivityID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Error("activity subscribe failed, room broadcasts locally",
					zap.String("activity_id", c.ActivityID.String()), zap.Error(err))
				h.local[c.ActivityID] = true
			} else {
				h.subs[c.ActivityID] = cancel
			}
		}
	}
	h.rooms[c.ActivityID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined activity", zap.String("client_id", c.ID), zap.String("activity_id", c.ActivityID.String()))
}

// Unregister removes a client from an activity room. Cancels the Redis
// subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.ActivityID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.ActivityID)
			delete(h.local, c.ActivityID)
			if cancel, ok := h.subs[c.ActivityID]; ok {
				cancel()
				delete(h.subs, c.ActivityID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left activity", zap.String("client_id", c.ID), zap.String("activity_id", c.ActivityID.String()))
}

// BroadcastToActivity sends a message to all clients in an activity (local only).
func (h *Hub) BroadcastToActivity(activityID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[activityID]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToActivityAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastToActivityAndPublish(activityID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.BroadcastToActivity(activityID, event, payload)
	if h.redis != nil {
		_ = h.redis.PublishActivityEvent(activityID, event, data)
	}
}

// Publish publishes to Redis only (no direct local broadcast), so the Redis
// subscriber callback performs the broadcast once for all instances including
// this one, avoiding duplicate delivery to local clients. Without Redis, or
// when the room's subscription could not be established, local clients get a
// direct broadcast instead.
func (h *Hub) Publish(_ context.Context, activityID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	degraded := h.local[activityID]
	h.mu.RUnlock()
	if h.redis != nil && !degraded {
		return h.redis.PublishActivityEvent(activityID, event, data)
	}
	h.BroadcastToActivity(activityID, event, json.RawMessage(data))
	if h.redis != nil {
		return h.redis.PublishActivityEvent(activityID, event, data)
	}
	return nil
}

// PresenceCount returns the number of connected clients in an activity room.
func (h *Hub) PresenceCount(activityID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[activityID])
}

// SendToClient sends a message to a single client in an activity (for error frames).
func (h *Hub) SendToClient(activityID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := h.rooms[activityID]
	c, ok := clients[clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
