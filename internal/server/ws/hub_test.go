package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
	done chan struct{}
}

func newFakeBus(n int) *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte), done: make(chan struct{}, n)}
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[channel] = ch
	b.mu.Unlock()
	b.done <- struct{}{}
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) push(channel string, payload string) {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	ch <- []byte(payload)
}

func TestRouteChannel(t *testing.T) {
	assert.Equal(t, "ch:steps:r1", routeChannel("ch:steps:*", []byte(`{"run_id":"r1","steps":[]}`)))
	assert.Equal(t, "ch:steps:*", routeChannel("ch:steps:*", []byte(`not json`)))
	assert.Equal(t, "ch:tx", routeChannel("ch:tx", []byte(`{"run_id":"r1"}`)))
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:steps:*": true}}
	assert.True(t, c.isSubscribed("ch:steps:abc"))
	assert.False(t, c.isSubscribed("ch:tx"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:tx"}})
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:steps:*"}})
	assert.True(t, c.isSubscribed("ch:tx"))
	assert.False(t, c.isSubscribed("ch:steps:abc"))
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRelaysRunSteps(t *testing.T) {
	bus := newFakeBus(len(busChannels))
	status := func() domain.DeskStatus { return domain.DeskStatus{Mode: "server", ActiveRuns: 1} }
	hub := NewHub(bus, status, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	for range busChannels {
		<-bus.done
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?run=r2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, "desk_status", first.Type)
	assert.Contains(t, string(first.Payload), `"active_runs":1`)

	// Only run r2 is subscribed; r1 and tx traffic are filtered out.
	bus.push("ch:steps:*", `{"run_id":"r1","steps":[]}`)
	bus.push("ch:tx", `{"scope":"deposit"}`)
	bus.push("ch:steps:*", `{"run_id":"r2","steps":[{"key":"cloneMM","status":"pending"}]}`)

	got := readFrame(t, conn)
	assert.Equal(t, "steps", got.Type)
	assert.Equal(t, "ch:steps:r2", got.Channel)
	assert.Contains(t, string(got.Payload), `"cloneMM"`)
}
