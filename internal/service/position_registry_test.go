package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/store/memory"
)

func TestRegistryRejectsDuplicateIdentity(t *testing.T) {
	r := NewPositionRegistry(memory.NewPositionStore(), testLogger())
	require.NoError(t, r.Insert(domain.Position{ID: 1, Pair: ethBTC, Status: domain.PositionOpening}))

	err := r.Insert(domain.Position{ID: 1, Pair: ethUSDT, Status: domain.PositionOpening})
	assert.ErrorIs(t, err, domain.ErrDuplicatePosition)

	p, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, ethBTC, p.Pair)
}

func TestRegistryReturnsCopiesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	r := NewPositionRegistry(memory.NewPositionStore(), testLogger())
	for i := 0; i < 3; i++ {
		_, err := r.Create(ctx, domain.PositionSnapshot{Pair: ethBTC, Amount: dec("1"), Status: domain.PositionOpening})
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	for i, p := range list {
		assert.EqualValues(t, i+1, p.ID)
	}

	list[0].Status = domain.PositionClosed
	p, _ := r.Get(1)
	assert.Equal(t, domain.PositionOpening, p.Status)

	assert.ErrorIs(t, r.Replace(domain.Position{ID: 99}), domain.ErrNotFound)
}

func TestRegistryActivePairs(t *testing.T) {
	r := NewPositionRegistry(memory.NewPositionStore(), testLogger())
	require.NoError(t, r.Insert(domain.Position{ID: 1, Pair: ethBTC, Status: domain.PositionOpened}))
	require.NoError(t, r.Insert(domain.Position{ID: 2, Pair: ethBTC, Status: domain.PositionOpening}))
	require.NoError(t, r.Insert(domain.Position{ID: 3, Pair: ethUSDT, Status: domain.PositionClosed}))

	assert.Equal(t, []domain.CurrencyPair{ethBTC}, r.ActivePairs())
}
