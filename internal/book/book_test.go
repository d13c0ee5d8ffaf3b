package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

func TestBook_AddAndRemoveLevel(t *testing.T) {
	b := New(1)

	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1050, Quantity: 1_000_000, OrderCount: 1})
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1049, Quantity: 2_000_000, OrderCount: 1})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.1052, Quantity: 1_500_000, OrderCount: 1})

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 1.1050, bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 1.1052, ask)

	bids := b.Bids(10)
	require.Len(t, bids, 2)
	assert.Equal(t, 1.1050, bids[0].Price, "bids must be sorted best (highest) first")
	assert.Equal(t, 1.1049, bids[1].Price)

	b.RemoveLevel(types.SideBid, 1.1050)
	bid, ok = b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 1.1049, bid)
}

func TestBook_UpdateLevelZeroQuantityRemoves(t *testing.T) {
	b := New(1)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.10, Quantity: 100})
	b.UpdateLevel(types.SideBid, types.PriceLevel{Price: 1.10, Quantity: 0})

	_, ok := b.BestBid()
	assert.False(t, ok, "a level updated to zero quantity must be removed")
}

func TestBook_MidPriceAndSpread(t *testing.T) {
	b := New(1)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1000, Quantity: 100})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.1002, Quantity: 100})

	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.InDelta(t, 1.1001, mid, 1e-9)

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.InDelta(t, 0.0002, spread, 1e-9)

	assert.False(t, b.IsCrossed())
}

func TestBook_IsCrossedWhenBidAtOrAboveAsk(t *testing.T) {
	b := New(1)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1005, Quantity: 100})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.1002, Quantity: 100})
	assert.True(t, b.IsCrossed())
}

func TestBook_AddTradeUpdatesStats(t *testing.T) {
	b := New(1)

	b.AddTrade(types.Trade{Price: 1.1000, Quantity: 100})
	b.AddTrade(types.Trade{Price: 1.1010, Quantity: 100})
	b.AddTrade(types.Trade{Price: 1.0990, Quantity: 200})

	stats := b.Stats()
	assert.Equal(t, 1.1000, stats.OpenPrice)
	assert.Equal(t, 1.1010, stats.HighPrice)
	assert.Equal(t, 1.0990, stats.LowPrice)
	assert.Equal(t, 1.0990, stats.LastPrice)
	assert.Equal(t, uint64(400), stats.TotalVolume)
	assert.Equal(t, uint64(3), stats.TradeCount)

	// VWAP = (1.1000*100 + 1.1010*100 + 1.0990*200) / 400
	expectedVWAP := (1.1000*100 + 1.1010*100 + 1.0990*200) / 400
	assert.InDelta(t, expectedVWAP, stats.VWAP, 1e-9)
}

func TestBook_TradeTapeCapsAt100(t *testing.T) {
	b := New(1)
	for i := 0; i < 150; i++ {
		b.AddTrade(types.Trade{Price: 1.10, Quantity: 1})
	}
	assert.Len(t, b.RecentTrades(1000), 100)
}

func TestBook_ApplyQuoteAddChangeDelete(t *testing.T) {
	b := New(1)

	b.ApplyQuote(types.QuoteUpdate{
		Side: types.SideBid, Price: 1.1000, Quantity: 100, Action: types.ActionAdd,
	})
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 1.1000, bid)

	b.ApplyQuote(types.QuoteUpdate{
		Side: types.SideBid, Price: 1.1000, Quantity: 250, Action: types.ActionChange,
	})
	levels := b.Bids(1)
	require.Len(t, levels, 1)
	assert.Equal(t, uint64(250), levels[0].Quantity)

	b.ApplyQuote(types.QuoteUpdate{
		Side: types.SideBid, Price: 1.1000, Action: types.ActionDelete,
	})
	_, ok = b.BestBid()
	assert.False(t, ok)
}

func TestBook_ApplyQuoteClearWipesSide(t *testing.T) {
	b := New(1)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.10, Quantity: 100})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.11, Quantity: 100})

	b.ApplyQuote(types.QuoteUpdate{Side: types.SideBid, Action: types.ActionClear})

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.True(t, ok, "clearing one side must not affect the other")
}

func TestBook_ApplyEventDispatchesByConcreteType(t *testing.T) {
	b := New(1)

	b.ApplyEvent(types.QuoteUpdate{Side: types.SideBid, Price: 1.10, Quantity: 100, Action: types.ActionAdd})
	_, ok := b.BestBid()
	require.True(t, ok)

	b.ApplyEvent(types.Trade{Price: 1.10, Quantity: 50})
	assert.Equal(t, uint64(1), b.Stats().TradeCount)

	b.ApplyEvent(types.BookClear{})
	_, ok = b.BestBid()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), b.Stats().TradeCount)
}

func TestBook_CreateSnapshotReflectsCurrentState(t *testing.T) {
	b := New(7)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1000, Quantity: 100})
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.0999, Quantity: 200})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.1002, Quantity: 150})
	b.AddTrade(types.Trade{Price: 1.1001, Quantity: 10})

	snap := b.CreateSnapshot(10)
	assert.Equal(t, uint32(7), snap.Instrument())
	require.Len(t, snap.BidLevels, 2)
	require.Len(t, snap.AskLevels, 1)
	assert.Equal(t, 1.1000, snap.BidLevels[0].Price)
	require.NotNil(t, snap.LastTradePrice)
	assert.Equal(t, 1.1001, *snap.LastTradePrice)
	require.NotNil(t, snap.TotalVolume)
	assert.Equal(t, uint64(10), *snap.TotalVolume)
}

func TestBook_CreateSnapshotRespectsMaxLevels(t *testing.T) {
	b := New(1)
	for i := 0; i < 20; i++ {
		b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.1000 - float64(i)*0.0001, Quantity: 100})
	}
	snap := b.CreateSnapshot(5)
	assert.Len(t, snap.BidLevels, 5)
}

func TestBook_Clear(t *testing.T) {
	b := New(1)
	b.AddLevel(types.SideBid, types.PriceLevel{Price: 1.10, Quantity: 100})
	b.AddLevel(types.SideAsk, types.PriceLevel{Price: 1.11, Quantity: 100})
	b.AddTrade(types.Trade{Price: 1.105, Quantity: 10})

	b.Clear()

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	assert.Equal(t, types.MarketStats{}, b.Stats())
	assert.Empty(t, b.RecentTrades(10))
}
