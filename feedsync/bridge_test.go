package feedsync

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func newTestJwt(t *testing.T, userId Id) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":   userId.String(),
		"user_name": "tester",
	})
	byJwt, err := token.SignedString([]byte("test secret"))
	assert.Equal(t, err, nil)
	return byJwt
}

func testBridgeSettings() *SocketBridgeSettings {
	settings := DefaultSocketBridgeSettings()
	settings.PingTimeout = 200 * time.Millisecond
	settings.ReadTimeout = 10 * time.Second
	settings.ReconnectMinTimeout = 50 * time.Millisecond
	settings.ReconnectMaxTimeout = 500 * time.Millisecond
	return settings
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

type testRelay struct {
	registry    *ConnectionRegistry
	broadcaster *EventBroadcaster
	feedServer  *FeedServer
	wsServer    *httptest.Server
	wsUrl       string
}

func newTestRelay(ctx context.Context) *testRelay {
	registry := NewConnectionRegistry()
	feedServer := NewFeedServerWithDefaults(ctx, registry)
	wsServer := httptest.NewServer(feedServer)
	return &testRelay{
		registry:    registry,
		broadcaster: NewEventBroadcaster(registry),
		feedServer:  feedServer,
		wsServer:    wsServer,
		wsUrl:       "ws" + strings.TrimPrefix(wsServer.URL, "http"),
	}
}

func (self *testRelay) stop() {
	self.feedServer.Close()
	self.wsServer.Close()
}

func TestBridgeConnectAndBroadcast(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay(cancelCtx)
	defer relay.stop()

	platform := newTestPlatform()
	apiServer := httptest.NewServer(platform.handler())
	defer apiServer.Close()

	userId := NewId()
	auth := &ClientAuth{ByJwt: newTestJwt(t, userId)}

	api := NewFeedApiWithContext(cancelCtx, apiServer.URL)
	api.SetByJwt(auth.ByJwt)
	cache := NewCacheStore()

	states := []BridgeState{}
	statesLock := &sync.Mutex{}

	bridge := NewSocketBridge(cancelCtx, relay.wsUrl, auth, api, cache, testBridgeSettings())
	defer bridge.Close()
	bridge.AddStateChangeCallback(func(state BridgeState) {
		statesLock.Lock()
		states = append(states, state)
		statesLock.Unlock()
	})

	waitFor(t, 5*time.Second, func() bool {
		return relay.registry.Len() == 1
	})
	connection, ok := relay.registry.Lookup(userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, connection.UserId(), userId)
	assert.Equal(t, bridge.State(), BridgeStateConnectedAuthenticated)

	// client B's cache, initially empty, converges to [p1]
	p1 := newTestPost(NewId(), "Hello")
	relay.broadcaster.BroadcastAll(NewPostCreatedEvent(p1))

	waitFor(t, 5*time.Second, func() bool {
		return cache.Len() == 1
	})
	feed := cache.Feed()
	assert.Equal(t, len(feed), 1)
	assert.Equal(t, feed[0].PostId, p1.PostId)
	assert.Equal(t, feed[0].Text, "Hello")

	// a duplicate broadcast does not duplicate the entry
	relay.broadcaster.BroadcastAll(NewPostCreatedEvent(p1))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, cache.Len(), 1)
}

func TestBridgeResyncOnReconnect(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay(cancelCtx)
	defer relay.stop()

	platform := newTestPlatform()
	apiServer := httptest.NewServer(platform.handler())
	defer apiServer.Close()

	userId := NewId()
	auth := &ClientAuth{ByJwt: newTestJwt(t, userId)}

	api := NewFeedApiWithContext(cancelCtx, apiServer.URL)
	api.SetByJwt(auth.ByJwt)
	cache := NewCacheStore()

	bridge := NewSocketBridge(cancelCtx, relay.wsUrl, auth, api, cache, testBridgeSettings())
	defer bridge.Close()

	waitFor(t, 5*time.Second, func() bool {
		return relay.registry.Len() == 1
	})
	assert.Equal(t, cache.Len(), 0)

	// two posts are created while the events cannot reach this client.
	// the push channel has no backlog, so only the resync can repair it
	platform.addPost(newTestPost(NewId(), "missed 1"))
	platform.addPost(newTestPost(NewId(), "missed 2"))

	connection, ok := relay.registry.Lookup(userId)
	assert.Equal(t, ok, true)
	connection.Close()

	waitFor(t, 10*time.Second, func() bool {
		return cache.Len() == 2
	})
	assert.Equal(t, bridge.State(), BridgeStateConnectedAuthenticated)
}

func TestBridgeTeardownCancelsReconnect(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay(cancelCtx)
	// the relay is down from the start
	relay.stop()

	platform := newTestPlatform()
	apiServer := httptest.NewServer(platform.handler())
	defer apiServer.Close()

	userId := NewId()
	auth := &ClientAuth{ByJwt: newTestJwt(t, userId)}

	api := NewFeedApiWithContext(cancelCtx, apiServer.URL)
	cache := NewCacheStore()

	bridge := NewSocketBridge(cancelCtx, relay.wsUrl, auth, api, cache, testBridgeSettings())

	time.Sleep(200 * time.Millisecond)
	assert.NotEqual(t, bridge.State(), BridgeStateConnectedAuthenticated)

	bridge.Close()
	waitFor(t, 5*time.Second, func() bool {
		return bridge.State() == BridgeStateDisconnected
	})
	// no resync was triggered
	assert.Equal(t, cache.Len(), 0)
}

func TestServerAuthReject(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay(cancelCtx)
	defer relay.stop()

	// garbage auth frame. the server closes without an echo
	ws, _, err := websocket.DefaultDialer.Dial(relay.wsUrl, nil)
	assert.Equal(t, err, nil)
	defer ws.Close()

	err = ws.WriteMessage(websocket.TextMessage, []byte("not an auth frame"))
	assert.Equal(t, err, nil)

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.NotEqual(t, err, nil)
	assert.Equal(t, relay.registry.Len(), 0)
}

func TestServerDisplacesOlderConnection(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay(cancelCtx)
	defer relay.stop()

	userId := NewId()
	authBytes, err := EncodeAuthFrame(&ClientAuth{ByJwt: newTestJwt(t, userId)})
	assert.Equal(t, err, nil)

	dial := func() *websocket.Conn {
		ws, _, err := websocket.DefaultDialer.Dial(relay.wsUrl, nil)
		assert.Equal(t, err, nil)
		err = ws.WriteMessage(websocket.TextMessage, authBytes)
		assert.Equal(t, err, nil)
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, echo, err := ws.ReadMessage()
		assert.Equal(t, err, nil)
		assert.Equal(t, string(echo), string(authBytes))
		return ws
	}

	ws1 := dial()
	defer ws1.Close()
	waitFor(t, 5*time.Second, func() bool {
		return relay.registry.Len() == 1
	})
	first, _ := relay.registry.Lookup(userId)

	// the same user connects again. the new connection wins the binding
	ws2 := dial()
	defer ws2.Close()
	waitFor(t, 5*time.Second, func() bool {
		current, ok := relay.registry.Lookup(userId)
		return ok && current != first
	})
	assert.Equal(t, relay.registry.Len(), 1)

	// the displaced socket is closed by the server
	ws1.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := ws1.ReadMessage()
		if err != nil {
			break
		}
	}

	// targeted delivery reaches the live connection
	relay.broadcaster.SendToUser(userId, NewProfileUpdatedEvent(&User{
		UserId: userId,
		Name:   "still here",
	}))

	ws2.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, frame, err := ws2.ReadMessage()
		assert.Equal(t, err, nil)
		if len(frame) == 0 {
			// ping
			continue
		}
		event, err := DecodeFeedEvent(frame)
		assert.Equal(t, err, nil)
		assert.Equal(t, event.Type, FeedEventTypeProfileUpdated)
		assert.Equal(t, event.User.Name, "still here")
		break
	}
}
