// Package book implements the per-instrument limit order book: price-sorted
// bid/ask ladders, a bounded trade tape, and the derived OHLC/VWAP/volume
// statistics described by the order-book component.
package book

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

const maxRecentTrades = 100

func descendingFloat64Comparator(a, b interface{}) int {
	return -utils.Float64Comparator(a, b)
}

// Book is one instrument's order book: bids ordered best-first (highest
// price first), asks ordered best-first (lowest price first).
type Book struct {
	instrumentID uint32

	mu     sync.RWMutex
	bids   *redblacktree.Tree
	asks   *redblacktree.Tree
	trades []types.Trade
	stats  types.MarketStats
}

// New creates an empty book bound to instrumentID.
func New(instrumentID uint32) *Book {
	return &Book{
		instrumentID: instrumentID,
		bids:         redblacktree.NewWith(descendingFloat64Comparator),
		asks:         redblacktree.NewWith(utils.Float64Comparator),
	}
}

func (b *Book) treeFor(side types.Side) *redblacktree.Tree {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

// AddLevel inserts or replaces the level at level.Price on side.
func (b *Book) AddLevel(side types.Side, level types.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLevelLocked(side, level)
}

func (b *Book) addLevelLocked(side types.Side, level types.PriceLevel) {
	lvl := level
	b.treeFor(side).Put(level.Price, &lvl)
}

// UpdateLevel replaces the level at level.Price, or removes it if
// level.Quantity is zero.
func (b *Book) UpdateLevel(side types.Side, level types.PriceLevel) {
	if level.Quantity == 0 {
		b.RemoveLevel(side, level.Price)
		return
	}
	b.AddLevel(side, level)
}

// RemoveLevel removes the level at price on side, if present.
func (b *Book) RemoveLevel(side types.Side, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.treeFor(side).Remove(price)
}

// ClearSide removes every level on side.
func (b *Book) ClearSide(side types.Side) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.treeFor(side).Clear()
}

// Clear removes every level on both sides, empties the trade tape, and
// resets the derived statistics.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.Clear()
	b.asks.Clear()
	b.trades = nil
	b.stats = types.MarketStats{}
}

// AddTrade appends trade to the tape (dropping the oldest past 100 entries)
// and folds it into the derived statistics.
func (b *Book) AddTrade(trade types.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, trade)
	if len(b.trades) > maxRecentTrades {
		b.trades = b.trades[len(b.trades)-maxRecentTrades:]
	}
	b.updateStatsOnTradeLocked(trade)
}

// updateStatsOnTradeLocked folds a trade into stats. VWAP is computed from
// the *previous* total volume before total_volume is updated, per the
// numerically stable form the spec requires.
func (b *Book) updateStatsOnTradeLocked(trade types.Trade) {
	s := &b.stats
	previousVolume := s.TotalVolume

	s.LastPrice = trade.Price
	s.TradeCount++

	if s.TradeCount == 1 {
		s.OpenPrice = trade.Price
		s.HighPrice = trade.Price
		s.LowPrice = trade.Price
		s.VWAP = trade.Price
	} else {
		if trade.Price > s.HighPrice {
			s.HighPrice = trade.Price
		}
		if trade.Price < s.LowPrice {
			s.LowPrice = trade.Price
		}
		newVolume := previousVolume + trade.Quantity
		s.VWAP = (s.VWAP*float64(previousVolume) + trade.Price*float64(trade.Quantity)) / float64(newVolume)
	}

	s.TotalVolume += trade.Quantity
}

func levelsFrom(tree *redblacktree.Tree, maxLevels int) []types.PriceLevel {
	result := make([]types.PriceLevel, 0, maxLevels)
	it := tree.Iterator()
	for it.Next() {
		if len(result) >= maxLevels {
			break
		}
		result = append(result, *it.Value().(*types.PriceLevel))
	}
	return result
}

// Bids returns up to maxLevels bid levels, best (highest price) first.
func (b *Book) Bids(maxLevels int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelsFrom(b.bids, maxLevels)
}

// Asks returns up to maxLevels ask levels, best (lowest price) first.
func (b *Book) Asks(maxLevels int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelsFrom(b.asks, maxLevels)
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node := b.bids.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(float64), true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node := b.asks.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(float64), true
}

// MidPrice returns (best_bid+best_ask)/2 when both sides have depth.
func (b *Book) MidPrice() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2.0, true
}

// Spread returns best_ask-best_bid when both sides have depth.
func (b *Book) Spread() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// IsCrossed reports whether the best bid is at or above the best ask.
func (b *Book) IsCrossed() bool {
	bid, ok := b.BestBid()
	if !ok {
		return false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return false
	}
	return bid >= ask
}

// Stats returns a copy of the current derived statistics.
func (b *Book) Stats() types.MarketStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// RecentTrades returns up to count of the most recent trades, oldest first.
func (b *Book) RecentTrades(count int) []types.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if count >= len(b.trades) {
		out := make([]types.Trade, len(b.trades))
		copy(out, b.trades)
		return out
	}
	out := make([]types.Trade, count)
	copy(out, b.trades[len(b.trades)-count:])
	return out
}

// CreateSnapshot builds a Snapshot event from the book's current state.
func (b *Book) CreateSnapshot(maxLevels int) types.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := uint64(time.Now().UnixNano())
	snap := types.Snapshot{
		EventBase: types.EventBase{InstrumentID: b.instrumentID, TsNs: now},
	}

	bidCount := 0
	bidIt := b.bids.Iterator()
	for bidIt.Next() {
		if bidCount >= maxLevels {
			break
		}
		lvl := bidIt.Value().(*types.PriceLevel)
		snap.BidLevels = append(snap.BidLevels, quoteFromLevel(b.instrumentID, types.SideBid, *lvl, bidCount))
		bidCount++
	}

	askCount := 0
	askIt := b.asks.Iterator()
	for askIt.Next() {
		if askCount >= maxLevels {
			break
		}
		lvl := askIt.Value().(*types.PriceLevel)
		snap.AskLevels = append(snap.AskLevels, quoteFromLevel(b.instrumentID, types.SideAsk, *lvl, askCount))
		askCount++
	}

	if b.stats.LastPrice > 0 {
		lastPrice := b.stats.LastPrice
		snap.LastTradePrice = &lastPrice
	}
	totalVolume := b.stats.TotalVolume
	snap.TotalVolume = &totalVolume

	return snap
}

func quoteFromLevel(instrumentID uint32, side types.Side, lvl types.PriceLevel, index int) types.QuoteUpdate {
	level := lvl.LevelNumber
	if level == nil {
		n := uint8(index + 1)
		level = &n
	}
	return types.QuoteUpdate{
		EventBase:  types.EventBase{InstrumentID: instrumentID},
		Side:       side,
		Price:      lvl.Price,
		Quantity:   lvl.Quantity,
		Action:     types.ActionAdd,
		OrderCount: lvl.OrderCount,
		PriceLevel: level,
	}
}

// ApplyEvent dispatches a market event to the book: quote updates, trades,
// and book-clear markers mutate state; every other event type is a no-op.
func (b *Book) ApplyEvent(event types.MarketEvent) {
	switch e := event.(type) {
	case types.QuoteUpdate:
		b.ApplyQuote(e)
	case *types.QuoteUpdate:
		b.ApplyQuote(*e)
	case types.Trade:
		b.ApplyTrade(e)
	case *types.Trade:
		b.ApplyTrade(*e)
	case types.BookClear, *types.BookClear:
		b.Clear()
	}
}

// ApplyQuote builds a price level from a quote event and dispatches on its
// action: add/change/overlay update the level, delete removes it, clear
// wipes the side.
func (b *Book) ApplyQuote(q types.QuoteUpdate) {
	level := types.PriceLevel{
		Price:            q.Price,
		Quantity:         q.Quantity,
		OrderCount:       q.OrderCount,
		LastUpdateTimeNs: q.TsNs,
		ImpliedQuantity:  q.ImpliedQuantity,
		MarketMakerID:    q.MarketMaker,
		LevelNumber:      q.PriceLevel,
	}

	switch q.Action {
	case types.ActionAdd, types.ActionChange, types.ActionOverlay:
		b.UpdateLevel(q.Side, level)
	case types.ActionDelete:
		b.RemoveLevel(q.Side, q.Price)
	case types.ActionClear:
		b.ClearSide(q.Side)
	}
}

// ApplyTrade records a trade event against the tape and statistics.
func (b *Book) ApplyTrade(t types.Trade) {
	b.AddTrade(t)
}

// InstrumentID returns the instrument this book is bound to.
func (b *Book) InstrumentID() uint32 { return b.instrumentID }
