package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection in an activity room.
type Client struct {
	ID         string
	ActivityID uuid.UUID
	UserID     uuid.UUID
	hub        *Hub
	chat       ChatGateway
	conn       *websocket.Conn
	send       chan WSMessage
	logger     *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. Access is
// checked before the upgrade: only the organizer and approved participants
// may join an activity room.
func ServeWs(hub *Hub, chat ChatGateway, logger *zap.Logger, jwtValidate func(token string) (uuid.UUID, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		activityIDStr := c.Query("activity_id")
		token := c.Query("token")
		if activityIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "activity_id and token required"})
			return
		}
		activityID, err := uuid.Parse(activityIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid activity_id"})
			return
		}
		userID, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ok, err := chat.CanAccess(c.Request.Context(), activityID, userID)
		if err != nil || !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "chat access denied"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:         uuid.New().String(),
			ActivityID: activityID,
			UserID:     userID,
			hub:        hub,
			chat:       chat,
			conn:       conn,
			send:       make(chan WSMessage, 256),
			logger:     logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// Incoming frame payloads.
type chatFrame struct {
	Content string `json:"content"`
}

type ackFrame struct {
	MessageID string `json:"message_id"`
}

type reactionFrame struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ctx := context.Background()

		switch msg.Event {
		case "join":
			c.hub.BroadcastToActivityAndPublish(c.ActivityID, "presence", map[string]interface{}{
				"user_id": c.UserID.String(),
				"count":   c.hub.PresenceCount(c.ActivityID),
			})
		case "chat_message":
			var payload chatFrame
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError(msg.Event, "invalid payload")
				continue
			}
			if err := c.chat.HandleChatMessage(ctx, c.ActivityID, c.UserID, payload.Content); err != nil {
				c.sendError(msg.Event, err.Error())
			}
		case "delivered":
			var payload ackFrame
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError(msg.Event, "invalid payload")
				continue
			}
			if err := c.chat.HandleDelivered(ctx, c.ActivityID, c.UserID, payload.MessageID); err != nil {
				c.sendError(msg.Event, err.Error())
			}
		case "seen":
			var payload ackFrame
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError(msg.Event, "invalid payload")
				continue
			}
			if err := c.chat.HandleSeen(ctx, c.ActivityID, c.UserID, payload.MessageID); err != nil {
				c.sendError(msg.Event, err.Error())
			}
		case "reaction":
			var payload reactionFrame
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError(msg.Event, "invalid payload")
				continue
			}
			if err := c.chat.HandleReaction(ctx, c.ActivityID, c.UserID, payload.MessageID, payload.Type); err != nil {
				c.sendError(msg.Event, err.Error())
			}
		default:
			// ignore
		}
	}
}

func (c *Client) sendError(event, message string) {
	c.hub.SendToClient(c.ActivityID, c.ID, "error", map[string]string{
		"event":   event,
		"message": message,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
