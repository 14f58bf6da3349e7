// Package realtime pushes live poll tallies to websocket subscribers.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// EventPollSnapshot is sent to a subscriber right after it joins.
const EventPollSnapshot = "poll_snapshot"

// PollEvent is the payload of every poll event.
type PollEvent struct {
	PollID     string         `json:"pollId"`
	VoteCounts map[string]int `json:"voteCounts"`
	TotalVotes int            `json:"totalVotes"`
	IsActive   bool           `json:"isActive"`
}

// NewPollEvent builds the payload for p.
func NewPollEvent(p *models.Poll) PollEvent {
	return PollEvent{
		PollID:     p.ID.Hex(),
		VoteCounts: p.VoteCounts,
		TotalVotes: p.TotalVotes,
		IsActive:   p.IsActive,
	}
}

// RedisPublisher publishes poll events for every instance, this one included.
type RedisPublisher interface {
	PublishPollEvent(pollID string, event string, payload []byte) error
}

// RedisSubscriber subscribes to poll channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribePoll(pollID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains poll id -> set of connections and broadcasts messages.
// With Redis configured, events go through pub/sub so every instance delivers them once.
type Hub struct {
	// pollID -> map[clientID]*Client
	polls    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per poll
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		polls:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a poll room. Starts the Redis subscription for the poll if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.polls[c.PollID] == nil {
		h.polls[c.PollID] = make(map[string]*Client)
		if h.redisSub != nil {
			pollID := c.PollID
			cancel, err := h.redisSub.SubscribePoll(pollID, func(event string, payload []byte) {
				h.Broadcast(pollID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("poll_id", pollID), zap.Error(err))
			} else {
				h.subs[pollID] = cancel
			}
		}
	}
	h.polls[c.PollID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID))
}

// Unregister removes a client from a poll room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.polls[c.PollID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.polls, c.PollID)
			if cancel, ok := h.subs[c.PollID]; ok {
				cancel()
				delete(h.subs, c.PollID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID))
}

// Broadcast sends a message to all local clients watching a poll.
func (h *Hub) Broadcast(pollID string, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode poll event", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.polls[pollID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishPoll delivers a poll change to every subscriber across instances.
func (h *Hub) PublishPoll(event string, p *models.Poll) {
	pollID := p.ID.Hex()
	payload := NewPollEvent(p)
	if h.redis == nil {
		h.Broadcast(pollID, event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.redis.PublishPollEvent(pollID, event, data); err != nil {
		h.logger.Warn("redis publish failed, broadcasting locally", zap.String("poll_id", pollID), zap.Error(err))
		h.Broadcast(pollID, event, payload)
	}
}

// Watchers returns the number of local clients watching a poll.
func (h *Hub) Watchers(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.polls[pollID])
}

// send queues a message for one client.
func (h *Hub) send(c *Client, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
