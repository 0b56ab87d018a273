package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/store/memory"
)

type placerMock struct{ mock.Mock }

func (m *placerMock) PlaceMarketOrder(_ context.Context, side domain.OrderSide, pair domain.CurrencyPair, amount decimal.Decimal) (string, error) {
	args := m.Called(side, pair, amount.String())
	return args.String(0), args.Error(1)
}

type limiterStub struct {
	allowed bool
	err     error
	// waitErr is returned by Wait; nil means a slot freed up.
	waitErr error
	waited  *int
}

func (l limiterStub) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, l.err
}

func (l limiterStub) Wait(ctx context.Context, _ string) error {
	if l.waited != nil {
		*l.waited++
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("wait without deadline")
	}
	return l.waitErr
}

func TestTradeServiceCreatesOrders(t *testing.T) {
	ctx := context.Background()
	placer := &placerMock{}
	placer.On("PlaceMarketOrder", domain.OrderSideBuy, ethBTC, "0.5").Return("B1", nil)
	placer.On("PlaceMarketOrder", domain.OrderSideSell, ethBTC, "0.5").Return("S1", nil)
	audit := memory.NewAuditStore()
	svc := NewTradeService(placer, nil, audit, testLogger())

	buy := svc.CreateBuyMarketOrder(ctx, ethBTC, dec("0.5"))
	assert.True(t, buy.Successful)
	assert.Equal(t, "B1", buy.OrderID)

	sell := svc.CreateSellMarketOrder(ctx, ethBTC, dec("0.5"))
	assert.True(t, sell.Successful)
	assert.Equal(t, "S1", sell.OrderID)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	placer.AssertExpectations(t)
}

func TestTradeServiceRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("exchange error", func(t *testing.T) {
		placer := &placerMock{}
		placer.On("PlaceMarketOrder", domain.OrderSideBuy, ethBTC, "1").Return("", domain.ErrInsufficientFunds)
		res := NewTradeService(placer, nil, nil, testLogger()).CreateBuyMarketOrder(ctx, ethBTC, dec("1"))
		assert.False(t, res.Successful)
		assert.ErrorIs(t, res.Err, domain.ErrInsufficientFunds)
		assert.Equal(t, domain.ErrInsufficientFunds.Error(), res.ErrorMessage)
	})

	t.Run("non positive amount", func(t *testing.T) {
		placer := &placerMock{}
		res := NewTradeService(placer, nil, nil, testLogger()).CreateSellMarketOrder(ctx, ethBTC, decimal.Zero)
		assert.False(t, res.Successful)
		assert.ErrorIs(t, res.Err, domain.ErrInvalidAmount)
		placer.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rate limited", func(t *testing.T) {
		placer := &placerMock{}
		svc := NewTradeService(placer, limiterStub{allowed: false}, nil, testLogger())
		res := svc.CreateBuyMarketOrder(ctx, ethBTC, dec("1"))
		assert.False(t, res.Successful)
		assert.ErrorIs(t, res.Err, domain.ErrRateLimited)
	})

	t.Run("rate limited waits for a slot", func(t *testing.T) {
		placer := &placerMock{}
		placer.On("PlaceMarketOrder", domain.OrderSideBuy, ethBTC, "1").Return("B1", nil)
		waited := 0
		svc := NewTradeService(placer, limiterStub{allowed: false, waited: &waited}, nil, testLogger())
		svc.SetMaxWait(100 * time.Millisecond)
		res := svc.CreateBuyMarketOrder(ctx, ethBTC, dec("1"))
		assert.True(t, res.Successful)
		assert.Equal(t, "B1", res.OrderID)
		assert.Equal(t, 1, waited)
	})

	t.Run("rate limited wait times out", func(t *testing.T) {
		placer := &placerMock{}
		svc := NewTradeService(placer, limiterStub{allowed: false, waitErr: context.DeadlineExceeded}, nil, testLogger())
		svc.SetMaxWait(100 * time.Millisecond)
		res := svc.CreateBuyMarketOrder(ctx, ethBTC, dec("1"))
		assert.False(t, res.Successful)
		assert.ErrorIs(t, res.Err, domain.ErrRateLimited)
		placer.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("limiter unavailable fails open", func(t *testing.T) {
		placer := &placerMock{}
		placer.On("PlaceMarketOrder", domain.OrderSideBuy, ethBTC, "1").Return("B1", nil)
		svc := NewTradeService(placer, limiterStub{err: errors.New("redis down")}, nil, testLogger())
		res := svc.CreateBuyMarketOrder(ctx, ethBTC, dec("1"))
		assert.True(t, res.Successful)
	})
}
