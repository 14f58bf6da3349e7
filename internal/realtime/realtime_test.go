package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
)

func newTestPoll() *models.Poll {
	return &models.Poll{
		ID:         primitive.NewObjectID(),
		IsActive:   true,
		VoteCounts: map[string]int{"0": 2, "1": 1},
		TotalVotes: 3,
		IsPublic:   true,
	}
}

func localClient(pollID string) *Client {
	return &Client{ID: primitive.NewObjectID().Hex(), PollID: pollID, send: make(chan WSMessage, 4)}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return WSMessage{}
	}
}

func TestHub_LocalBroadcast(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	p := newTestPoll()
	watcher := localClient(p.ID.Hex())
	other := localClient(primitive.NewObjectID().Hex())
	hub.Register(watcher)
	hub.Register(other)
	assert.Equal(t, 1, hub.Watchers(p.ID.Hex()))

	hub.PublishPoll("poll_vote", p)

	msg := receive(t, watcher)
	assert.Equal(t, "poll_vote", msg.Event)
	var ev PollEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, NewPollEvent(p), ev)
	assert.Empty(t, other.send)

	hub.Unregister(watcher)
	assert.Equal(t, 0, hub.Watchers(p.ID.Hex()))
}

func TestHub_RedisFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Two instances sharing Redis: a vote on one reaches watchers on the other, once.
	ps := NewRedisPubSub(rdb, nil)
	publisher := NewHub(nil, ps, ps)
	subscriber := NewHub(nil, ps, ps)

	p := newTestPoll()
	local := localClient(p.ID.Hex())
	remote := localClient(p.ID.Hex())
	publisher.Register(local)
	subscriber.Register(remote)
	t.Cleanup(func() {
		publisher.Unregister(local)
		subscriber.Unregister(remote)
	})

	publisher.PublishPoll("poll_status", p)

	for _, c := range []*Client{local, remote} {
		msg := receive(t, c)
		assert.Equal(t, "poll_status", msg.Event)
		var ev PollEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, 3, ev.TotalVotes)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, local.send)
}

func TestRedisPubSub_CancelStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	got := make(chan string, 4)
	cancel, err := ps.SubscribePoll("abc", func(event string, _ []byte) { got <- event })
	require.NoError(t, err)

	require.NoError(t, ps.PublishPollEvent("abc", "poll_vote", []byte(`{}`)))
	select {
	case ev := <-got:
		assert.Equal(t, "poll_vote", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		return len(mr.PubSubChannels(Channel("abc"))) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

type stubViewer struct {
	poll *models.Poll
}

func (s stubViewer) CanView(_ context.Context, id primitive.ObjectID, requestorID string) (*models.Poll, error) {
	if id != s.poll.ID {
		return nil, apperr.New(apperr.ErrNotFound, "poll not found")
	}
	if !s.poll.IsPublic && requestorID == "" {
		return nil, apperr.New(apperr.ErrPermissionDenied, "this poll is private")
	}
	return s.poll, nil
}

func TestServeWs_SnapshotThenUpdates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil, nil)
	p := newTestPoll()
	r := gin.New()
	r.GET("/polls/:pollId/live", ServeWs(hub, stubViewer{poll: p}, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/polls/" + p.ID.Hex() + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventPollSnapshot, msg.Event)

	updated := *p
	updated.VoteCounts = map[string]int{"0": 3, "1": 1}
	updated.TotalVotes = 4
	hub.PublishPoll("poll_vote", &updated)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "poll_vote", msg.Event)
	var ev PollEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, 4, ev.TotalVotes)
}

func TestServeWs_PrivatePollRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := newTestPoll()
	p.IsPublic = false
	r := gin.New()
	r.GET("/polls/:pollId/live", ServeWs(NewHub(nil, nil, nil), stubViewer{poll: p}, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/polls/"+p.ID.Hex()+"/live", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// changingViewer returns later tallies on every load after the first.
type changingViewer struct {
	mu     sync.Mutex
	loads  int
	first  *models.Poll
	latest *models.Poll
}

func (v *changingViewer) CanView(_ context.Context, _ primitive.ObjectID, _ string) (*models.Poll, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loads++
	if v.loads == 1 {
		return v.first, nil
	}
	return v.latest, nil
}

func TestServeWs_SnapshotLoadedAfterJoin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil, nil)
	p := newTestPoll()
	voted := *p
	voted.VoteCounts = map[string]int{"0": 2, "1": 2}
	voted.TotalVotes = 4
	viewer := &changingViewer{first: p, latest: &voted}

	r := gin.New()
	r.GET("/polls/:pollId/live", ServeWs(hub, viewer, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/polls/" + p.ID.Hex() + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, EventPollSnapshot, msg.Event)
	var ev PollEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, 4, ev.TotalVotes)
	assert.Equal(t, 1, hub.Watchers(p.ID.Hex()))
}
