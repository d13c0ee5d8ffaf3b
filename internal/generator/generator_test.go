package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxmdfeed/reutersfeed/internal/bookmanager"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

func newTestManager(t *testing.T) (*bookmanager.Manager, *types.Instrument) {
	t.Helper()
	m := bookmanager.New()
	instr := types.NewInstrument(1, "EURUSD", types.KindFXSpot)
	instr.TickSize = 0.00001
	instr.SetProperty("initial_price", 1.10000)
	require.NoError(t, m.AddInstrument(instr))
	require.NoError(t, m.CreateOrderBook(1))
	return m, instr
}

func TestRegimeByNameKnownRegimes(t *testing.T) {
	for _, name := range []string{RegimeNormal, RegimeFast, RegimeVolatile, RegimeThin, RegimeTrending, RegimeStressed} {
		regime, ok := RegimeByName(name)
		assert.True(t, ok, name)
		assert.Equal(t, name, regime.Name)
		assert.Greater(t, regime.Volatility, 0.0)
		assert.Greater(t, regime.UpdatesPerSecond, 0)
	}
}

func TestRegimeByNameUnknown(t *testing.T) {
	_, ok := RegimeByName("nonexistent")
	assert.False(t, ok)
}

func TestNewRejectsUnknownRegime(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := New(m, "not-a-regime")
	assert.Error(t, err)
}

func TestNewDefaultsToRequestedRegime(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeVolatile)
	require.NoError(t, err)
	assert.Equal(t, RegimeVolatile, g.CurrentRegime().Name)
}

func TestSetRegimeSwitchesParameters(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	require.NoError(t, g.SetRegime(RegimeStressed))
	assert.Equal(t, RegimeStressed, g.CurrentRegime().Name)

	assert.Error(t, g.SetRegime("bogus"))
	assert.Equal(t, RegimeStressed, g.CurrentRegime().Name)
}

func TestGenerateUpdateUnknownInstrumentErrors(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	_, _, err = g.GenerateUpdate(999)
	assert.Error(t, err)
}

func TestGenerateUpdateProducesQuoteOrTradeAndAppliesToBook(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	b, ok := m.OrderBook(1)
	require.True(t, ok)

	sawQuote, sawApplied := false, false
	for i := 0; i < 500; i++ {
		event, applied, err := g.GenerateUpdate(1)
		require.NoError(t, err)
		if !applied {
			continue
		}
		sawApplied = true
		require.NotNil(t, event)
		assert.Equal(t, uint32(1), event.Instrument())
		if event.Type() == types.EventQuoteUpdate {
			sawQuote = true
		}
	}

	assert.True(t, sawApplied, "expected at least one applied event across 500 draws")
	assert.True(t, sawQuote, "expected at least one quote update across 500 draws")
	assert.NotEmpty(t, append(b.Bids(10), b.Asks(10)...), "expected the book to have gained resting levels")
}

func TestGenerateUpdateTradeSkippedWithoutTwoSidedMarket(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeStressed)
	require.NoError(t, err)

	// The book starts empty, so the first draw cannot trade: it is either a
	// quote, or a trade draw that is skipped and counted.
	event, applied, err := g.GenerateUpdate(1)
	require.NoError(t, err)
	if applied {
		assert.Equal(t, types.EventQuoteUpdate, event.Type(), "an empty book cannot produce a trade")
		assert.Equal(t, uint64(0), g.Stats().TradesSkipped)
	} else {
		assert.Nil(t, event)
		assert.Equal(t, uint64(1), g.Stats().TradesSkipped)
	}
}

func TestListenerReceivesEveryEvent(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	received := 0
	token := g.AddListener(func(types.MarketEvent) { received++ })

	applied := 0
	for i := 0; i < 50; i++ {
		_, ok, err := g.GenerateUpdate(1)
		require.NoError(t, err)
		if ok {
			applied++
		}
	}
	assert.Equal(t, applied, received)

	g.RemoveListener(token)
	before := received
	for i := 0; i < 50; i++ {
		_, _, _ = g.GenerateUpdate(1)
	}
	assert.Equal(t, before, received)
}

func TestClearListenersRemovesAll(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	received := 0
	g.AddListener(func(types.MarketEvent) { received++ })
	g.AddListener(func(types.MarketEvent) { received++ })
	g.ClearListeners()

	for i := 0; i < 20; i++ {
		_, _, _ = g.GenerateUpdate(1)
	}
	assert.Equal(t, 0, received)
}

func TestStatsCountGeneratedEvents(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeFast)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		_, _, err := g.GenerateUpdate(1)
		require.NoError(t, err)
	}

	stats := g.Stats()
	assert.Equal(t, stats.QuotesGenerated+stats.TradesGenerated, stats.UpdatesGenerated)
}

func TestResetStatisticsZeroesCounters(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, _, _ = g.GenerateUpdate(1)
	}
	g.ResetStatistics()
	stats := g.Stats()
	assert.Equal(t, uint64(0), stats.UpdatesGenerated)
	assert.Equal(t, uint64(0), stats.QuotesGenerated)
	assert.Equal(t, uint64(0), stats.TradesGenerated)
}

func TestSequenceNumbersIncreasePerInstrument(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := New(m, RegimeNormal)
	require.NoError(t, err)

	var lastSeq uint32
	for i := 0; i < 50; i++ {
		event, applied, err := g.GenerateUpdate(1)
		require.NoError(t, err)
		if !applied {
			continue
		}
		assert.Greater(t, event.Sequence(), lastSeq)
		lastSeq = event.Sequence()
	}
}
