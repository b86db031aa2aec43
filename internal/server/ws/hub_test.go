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

	"github.com/alanyoungcy/cardpay/internal/domain"
)

type chanBus struct {
	mu    sync.Mutex
	chans map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{chans: make(map[string]chan []byte)} }

func (b *chanBus) ch(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chans[name]
	if !ok {
		c = make(chan []byte, 8)
		b.chans[name] = c
	}
	return c
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.ch(channel) <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch(channel), nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, bus *chanBus, origins []string) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server", CORSOrigins: origins})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSendsHelloThenForwards(t *testing.T) {
	bus := newChanBus()
	_, srv, _ := startHub(t, bus, nil)
	conn := dial(t, srv, nil)

	hello := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelStatus, hello.Channel)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, "hello", payload["type"])
	assert.Equal(t, "server", payload["mode"])

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelAuthorization, []byte(`{"itemId":"card_001","approved":true}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelAuthorization, env.Channel)
	assert.JSONEq(t, `{"itemId":"card_001","approved":true}`, string(env.Payload))
}

func TestHubWrapsNonJSONPayload(t *testing.T) {
	frame, err := encodeEnvelope("ch:status", []byte("plain text"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"ch:status","payload":"plain text"}`, string(frame))
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, srv, _ := startHub(t, newChanBus(), []string{"https://shop.example"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://shop.example"}})
	assert.Equal(t, domain.ChannelStatus, readEnvelope(t, conn).Channel)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelAuthorization: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelAuthorization}})
	assert.False(t, c.isSubscribed(domain.ChannelAuthorization))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:*"}})
	assert.True(t, c.isSubscribed(domain.ChannelSettlement))
	assert.False(t, c.isSubscribed("stream:authorizations"))
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	bus := newChanBus()
	hub, srv, cancel := startHub(t, bus, nil)
	conn := dial(t, srv, nil)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
