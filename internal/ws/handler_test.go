package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukebox-rooms/internal/room"
	"github.com/jukebox-rooms/internal/testutil"
	"github.com/jukebox-rooms/internal/ws"
	"github.com/jukebox-rooms/pkg/events"
)

type feed struct {
	events []events.Event
}

func (f *feed) ConsumeEvents(ctx context.Context, handler func(events.Event) error) error {
	for _, e := range f.events {
		if err := handler(e); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func setup(t *testing.T) (*ws.Hub, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rc, _ := testutil.NewRedis(t)
	registry := room.NewRegistry(testutil.NewDB(t), rc, zerolog.Nop())
	r, err := registry.Create(context.Background(), "host-a", false, 2)
	require.NoError(t, err)

	hub := ws.NewHub(registry, []string{"http://localhost:5173"}, zerolog.Nop())
	router := gin.New()
	router.GET("/ws/:code", hub.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), r.Code
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDispatchReachesRoomFollowers(t *testing.T) {
	hub, base, code := setup(t)

	a := dial(t, base+"/ws/"+strings.ToLower(code))
	b := dial(t, base+"/ws/"+code)
	require.Eventually(t, func() bool { return hub.Connections(code) == 2 }, time.Second, 10*time.Millisecond)

	event, err := events.NewEvent(events.EventTypeTrackSkipped, code, "", events.TrackSkippedPayload{TrackID: "T1", Cause: "vote"})
	require.NoError(t, err)
	hub.Dispatch(event)

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var got events.Event
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, events.EventTypeTrackSkipped, got.Type)
		assert.Equal(t, code, got.RoomCode)
		assert.JSONEq(t, `{"track_id":"T1","cause":"vote"}`, string(got.Payload))
	}
}

func TestDispatchIgnoresOtherRooms(t *testing.T) {
	hub, base, code := setup(t)

	conn := dial(t, base+"/ws/"+code)
	require.Eventually(t, func() bool { return hub.Connections(code) == 1 }, time.Second, 10*time.Millisecond)

	other, err := events.NewEvent(events.EventTypeTrackQueued, "OTHER1", "", nil)
	require.NoError(t, err)
	hub.Dispatch(other)
	mine, err := events.NewEvent(events.EventTypeTrackQueued, code, "", nil)
	require.NoError(t, err)
	hub.Dispatch(mine)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, code, got.RoomCode)
}

func TestUnknownRoomIsRejected(t *testing.T) {
	_, base, _ := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/NOPE00", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForeignOriginIsRejected(t *testing.T) {
	_, base, code := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/"+code, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClosedSocketIsForgotten(t *testing.T) {
	hub, base, code := setup(t)

	conn := dial(t, base+"/ws/"+code)
	require.Eventually(t, func() bool { return hub.Connections(code) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Connections(code) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRunForwardsConsumedEvents(t *testing.T) {
	hub, base, code := setup(t)

	conn := dial(t, base+"/ws/"+code)
	require.Eventually(t, func() bool { return hub.Connections(code) == 1 }, time.Second, 10*time.Millisecond)

	event, err := events.NewEvent(events.EventTypeVoteRegistered, code, "guest-b", events.VotePayload{TrackID: "T1", Count: 1, Required: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, &feed{events: []events.Event{event}}) }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventTypeVoteRegistered, got.Type)
	assert.Equal(t, "guest-b", got.UserID)

	cancel()
	assert.NoError(t, <-done)
}
