package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifierFiltersAndCollectsErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("503")}
	n := NewNotifier([]Sender{bad, ok}, []string{"position_closed", " "}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "t", "m"))
	assert.Zero(t, ok.count())

	err := n.Notify(context.Background(), "position_closed", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: 503")
	assert.Equal(t, 1, ok.count())

	assert.True(t, NewNotifier(nil, nil, slog.Default()).Allows("anything"))
}

func TestTelegramSenderPostsMarkdown(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Closed", "body"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Closed*\nbody", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestPositionAlertsSendsAllowedEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	alerts := NewPositionAlerts(NewNotifier([]Sender{rec}, DefaultAlertEvents, slog.Default()), 4, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = alerts.Run(ctx) }()

	p := domain.Position{ID: 3, Pair: domain.NewCurrencyPair("ETH", "BTC"), Amount: decimal.RequireFromString("0.1")}
	alerts.OnPositionEvent(ctx, domain.PositionEvent{Type: domain.EventPositionGainUpdated, Position: p})
	alerts.OnPositionEvent(ctx, domain.PositionEvent{Type: domain.EventPositionClosed, Position: p})

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, "Position #3 closed", rec.titles[0])
	rec.mu.Unlock()
}

func TestPositionAlertsDropsWhenFull(t *testing.T) {
	alerts := NewPositionAlerts(NewNotifier(nil, nil, slog.Default()), 1, slog.Default())
	evt := domain.PositionEvent{Type: domain.EventPositionOpened}
	alerts.OnPositionEvent(context.Background(), evt)
	alerts.OnPositionEvent(context.Background(), evt)
	assert.EqualValues(t, 1, alerts.Dropped())
}

func TestFormatPositionEvent(t *testing.T) {
	p := domain.Position{
		ID:     1,
		Pair:   domain.NewCurrencyPair("ETH", "BTC"),
		Amount: decimal.RequireFromString("0.0001"),
		Gain: domain.Gain{
			Percentage: 50,
			Amount:     &domain.CurrencyAmount{Value: decimal.RequireFromString("0.00001"), Currency: "BTC"},
		},
	}
	title, body := FormatPositionEvent(domain.PositionEvent{Type: domain.EventPositionOpened, Position: p})
	assert.Equal(t, "Position #1 opened", title)
	assert.Contains(t, body, "Pair: ETH/BTC")
	assert.Contains(t, body, "Gain: 50%")
}
