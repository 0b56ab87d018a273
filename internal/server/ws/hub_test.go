package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubStreamsSubscribedChannels(t *testing.T) {
	hub := NewHub(func() domain.BotStatus { return domain.BotStatus{Mode: "trade", OpenPositions: 2} }, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "bot_status", status["type"])
	assert.Equal(t, "trade", status["payload"].(map[string]any)["mode"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTickers}}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, hub.OnTicker(ctx, domain.Ticker{Pair: domain.NewCurrencyPair("ETH", "BTC")}))
	hub.OnPositionEvent(ctx, domain.PositionEvent{Type: domain.EventPositionOpened, Position: domain.Position{ID: 9}})

	msg := readEnvelope(t, conn)
	assert.Equal(t, string(domain.EventPositionOpened), msg["type"])
	assert.Equal(t, domain.ChannelPositions, msg["channel"])
}

type historyStub struct {
	msgs  []domain.StreamMessage
	asked []string
}

func (h *historyStub) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	h.asked = append(h.asked, stream, lastID)
	if count < len(h.msgs) {
		return h.msgs[len(h.msgs)-count:], nil
	}
	return h.msgs, nil
}

func TestHubReplaysRecentPositionEvents(t *testing.T) {
	hub := NewHub(nil, slog.Default())
	history := &historyStub{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"position_opening","id":1}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"event":"position_opened","id":1}`)},
	}}
	hub.SetHistory(history, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "bot_status", readEnvelope(t, conn)["type"])

	replay := readEnvelope(t, conn)
	assert.Equal(t, "position_replay", replay["type"])
	assert.Equal(t, domain.ChannelPositions, replay["channel"])
	assert.Equal(t, "position_opened", replay["payload"].(map[string]any)["event"])
	assert.Equal(t, []string{domain.StreamPositions, ""}, history.asked)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.OnPositionEvent(ctx, domain.PositionEvent{Type: domain.EventPositionClosing, Position: domain.Position{ID: 1}})
	live := readEnvelope(t, conn)
	assert.Equal(t, string(domain.EventPositionClosing), live["type"])
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"pos*": true}}
	assert.True(t, c.isSubscribed("positions"))
	assert.False(t, c.isSubscribed("tickers"))
}
