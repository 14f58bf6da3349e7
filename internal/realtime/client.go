package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/middleware"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PollViewer loads a poll if the requestor may see it.
type PollViewer interface {
	CanView(ctx context.Context, pollID primitive.ObjectID, requestorID string) (*models.Poll, error)
}

// Client represents a single WebSocket connection watching a poll.
type Client struct {
	ID     string
	PollID string
	UserID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles GET /polls/:pollId/live. Run it behind middleware.OptionalJWT so private
// polls can be watched by campaign managers passing ?token=.
func ServeWs(hub *Hub, viewer PollViewer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		pollID, err := mongodb.ParseID(c.Param("pollId"), "poll")
		if err != nil {
			response.Error(c, err, "")
			return
		}
		userID := middleware.UserIDString(c)
		p, err := viewer.CanView(c.Request.Context(), pollID, userID)
		if err != nil {
			response.Error(c, err, "failed to load poll")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			PollID: pollID.Hex(),
			UserID: userID,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		// Register before loading the snapshot; a vote landing in between is still pushed.
		hub.Register(client)
		if fresh, err := viewer.CanView(context.WithoutCancel(c.Request.Context()), pollID, userID); err == nil {
			p = fresh
		} else {
			logger.Warn("reload poll for snapshot", zap.String("poll_id", pollID.Hex()), zap.Error(err))
		}
		hub.send(client, EventPollSnapshot, NewPollEvent(p))
		go client.writePump()
		client.readPump()
	}
}

// readPump only handles heartbeats; subscribers never write poll state over the socket.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(4096)
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
		if msg.Event == "ping" {
			c.hub.send(c, "pong", nil)
		}
	}
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
