package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startHub(t *testing.T, origins ...string) (*RealtimeHub, func()) {
	t.Helper()
	rdb, _ := newTestRedis(t)
	hub := NewRealtimeHub(rdb, origins)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	select {
	case <-hub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not subscribe")
	}
	return hub, func() {
		hub.Stop()
		cancel()
		<-done
	}
}

func TestHubRunStopsWithContext(t *testing.T) {
	rdb, _ := newTestRedis(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewRealtimeHub(rdb, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	<-hub.Ready()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHubNotifiesListeners(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	got := make(chan ChangeEvent, 4)
	hub.Listen(func(ev ChangeEvent) { got <- ev })

	require.NoError(t, hub.Publish(context.Background(), ChangeEvent{
		Table: "tasks", Type: ChangeUpdate, UserID: "u1", EntityID: "t1", Version: 7,
	}))

	select {
	case ev := <-got:
		assert.Equal(t, "t1", ev.EntityID)
		assert.Equal(t, int64(7), ev.Version)
		assert.False(t, ev.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSocketReceivesFilteredChanges(t *testing.T) {
	hub, stop := startHub(t)
	defer stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "u1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return hub.ConnectionCount("u1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "SUBSCRIBE",
		"data": map[string]interface{}{"tables": []string{"tasks"}},
	}))
	assert.Equal(t, "SUBSCRIBED", readMessage(t, conn).Type)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, ChangeEvent{Table: "projects", Type: ChangeUpdate, UserID: "u1", EntityID: "p1"}))
	require.NoError(t, hub.Publish(ctx, ChangeEvent{Table: "tasks", Type: ChangeUpdate, UserID: "u2", EntityID: "other"}))
	require.NoError(t, hub.Publish(ctx, ChangeEvent{Table: "tasks", Type: ChangeDelete, UserID: "u1", EntityID: "t1"}))

	msg := readMessage(t, conn)
	require.Equal(t, "CHANGE", msg.Type)
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var ev ChangeEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "tasks", ev.Table)
	assert.Equal(t, "t1", ev.EntityID)
	assert.Equal(t, ChangeDelete, ev.Type)
}

func TestSubscriptionMatches(t *testing.T) {
	all := subscription{}
	assert.True(t, all.matches(ChangeEvent{Table: "profiles"}))

	f := subscription{tables: map[string]bool{"tasks": true}, category: "fitness"}
	assert.True(t, f.matches(ChangeEvent{Table: "tasks", Category: "FITNESS"}))
	assert.True(t, f.matches(ChangeEvent{Table: "tasks"}))
	assert.False(t, f.matches(ChangeEvent{Table: "tasks", Category: "FINANCE"}))
	assert.False(t, f.matches(ChangeEvent{Table: "projects", Category: "FITNESS"}))
}

func TestSocketOriginCheck(t *testing.T) {
	hub, stop := startHub(t, "http://app.example")
	defer stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "u1")
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.ConnectionCount("u1"))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://app.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://nova.example"})
	req := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/api/realtime", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("", "api.example")), "non-browser clients send no origin")
	assert.True(t, check(req("https://nova.example", "api.example")))
	assert.True(t, check(req("http://api.example", "api.example")), "same host")
	assert.False(t, check(req("https://evil.example", "api.example")))
	assert.False(t, check(req("://bad", "api.example")))
}
