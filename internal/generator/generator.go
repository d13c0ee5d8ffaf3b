// Package generator synthesizes market events (quotes and trades) driven
// by a named regime, applies each event to the book manager, and dispatches
// it to registered listeners.
package generator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fxmdfeed/reutersfeed/internal/bookmanager"
	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

// ListenerToken identifies a registered listener so it can be removed
// later, the idiomatic substitute for the weak-reference listener
// semantics of the original generator.
type ListenerToken = uuid.UUID

// Listener receives every event the generator produces.
type Listener func(types.MarketEvent)

// Statistics counts what the generator has produced since the last reset.
type Statistics struct {
	UpdatesGenerated   uint64
	TradesGenerated    uint64
	QuotesGenerated    uint64
	SnapshotsGenerated uint64
	TradesSkipped      uint64
	StartTime          time.Time
}

// Generator produces synthetic market events for the instruments and books
// held by a bookmanager.Manager.
type Generator struct {
	manager *bookmanager.Manager

	mu        sync.Mutex
	regime    Regime
	rng       *rand.Rand
	normal    distuv.Normal
	poisson   distuv.Poisson
	sequences map[uint32]uint32
	listeners map[ListenerToken]Listener
	stats     Statistics
}

// New creates a generator bound to manager, starting in regimeName (one of
// the Regime* constants).
func New(manager *bookmanager.Manager, regimeName string) (*Generator, error) {
	regime, ok := RegimeByName(regimeName)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrConfigInvalid, "unknown market regime %q", regimeName)
	}

	g := &Generator{
		manager:   manager,
		regime:    regime,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sequences: make(map[uint32]uint32),
		listeners: make(map[ListenerToken]Listener),
	}
	g.normal = distuv.Normal{Mu: 0, Sigma: 1, Src: g.rng}
	g.poisson = distuv.Poisson{Lambda: 3, Src: g.rng}
	g.stats.StartTime = time.Now()
	return g, nil
}

// SetRegime switches the generator's behavioral parameters.
func (g *Generator) SetRegime(regimeName string) error {
	regime, ok := RegimeByName(regimeName)
	if !ok {
		return apperrors.Newf(apperrors.ErrConfigInvalid, "unknown market regime %q", regimeName)
	}
	g.mu.Lock()
	g.regime = regime
	g.mu.Unlock()
	return nil
}

// CurrentRegime returns the active regime.
func (g *Generator) CurrentRegime() Regime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.regime
}

// AddListener registers fn to receive every generated event and returns a
// token that RemoveListener accepts.
func (g *Generator) AddListener(fn Listener) ListenerToken {
	token := uuid.New()
	g.mu.Lock()
	g.listeners[token] = fn
	g.mu.Unlock()
	return token
}

// RemoveListener deregisters the listener registered under token.
func (g *Generator) RemoveListener(token ListenerToken) {
	g.mu.Lock()
	delete(g.listeners, token)
	g.mu.Unlock()
}

// ClearListeners deregisters every listener.
func (g *Generator) ClearListeners() {
	g.mu.Lock()
	g.listeners = make(map[ListenerToken]Listener)
	g.mu.Unlock()
}

func (g *Generator) notifyListeners(event types.MarketEvent) {
	g.mu.Lock()
	fns := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Stats returns a copy of the current generation statistics.
func (g *Generator) Stats() Statistics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStatistics zeroes every counter and restarts the uptime clock.
func (g *Generator) ResetStatistics() {
	g.mu.Lock()
	g.stats = Statistics{StartTime: time.Now()}
	g.mu.Unlock()
}

func (g *Generator) nextSequence(instrumentID uint32) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sequences[instrumentID]++
	return g.sequences[instrumentID]
}

// GenerateUpdate produces one event for instrumentID, applies it to the
// book manager, and dispatches it to listeners. It returns false (with no
// error) when a trade was chosen but there was no two-sided market to
// trade against, the "trade skipped" case.
func (g *Generator) GenerateUpdate(instrumentID uint32) (types.MarketEvent, bool, error) {
	instr, book, err := g.manager.InstrumentAndBook(instrumentID)
	if err != nil {
		return nil, false, err
	}

	regime := g.CurrentRegime()
	u := g.rng.Float64()

	if u < regime.TradeProbability {
		bestBid, hasBid := book.BestBid()
		bestAsk, hasAsk := book.BestAsk()
		if !hasBid || !hasAsk {
			g.mu.Lock()
			g.stats.TradesSkipped++
			g.mu.Unlock()
			return nil, false, nil
		}

		aggressorIsBid := g.rng.Float64() < 0.5
		var price float64
		var side types.Side
		if aggressorIsBid {
			price = bestAsk
			side = types.SideBid
		} else {
			price = bestBid
			side = types.SideAsk
		}

		quantity := g.calculateQuantity(instr) / 2
		if quantity == 0 {
			quantity = 1
		}
		tradeID := ksuid.New().String()

		event := types.Trade{
			EventBase:     types.EventBase{InstrumentID: instrumentID, TsNs: uint64(time.Now().UnixNano()), Seq: g.nextSequence(instrumentID)},
			Price:         price,
			Quantity:      quantity,
			AggressorSide: &side,
			TradeID:       &tradeID,
		}

		g.manager.ApplyEvent(event)
		g.notifyListeners(event)

		g.mu.Lock()
		g.stats.UpdatesGenerated++
		g.stats.TradesGenerated++
		g.mu.Unlock()
		return event, true, nil
	}

	event := g.generateQuote(instr, book, regime)
	g.manager.ApplyEvent(event)
	g.notifyListeners(event)

	g.mu.Lock()
	g.stats.UpdatesGenerated++
	g.stats.QuotesGenerated++
	g.mu.Unlock()
	return event, true, nil
}

func (g *Generator) generateQuote(instr *types.Instrument, book bookInterface, regime Regime) types.QuoteUpdate {
	side := types.SideBid
	if g.rng.Float64() < 0.5 {
		side = types.SideAsk
	}

	action := g.chooseUpdateAction()

	refPrice := g.referencePrice(instr, book)
	movement := regime.TrendBias*regime.Volatility*refPrice + g.normal.Rand()*regime.Volatility*refPrice
	newPrice := g.applyTickRounding(refPrice+movement, instr.TickSize)

	if action == types.ActionAdd {
		newPrice = g.enforceNonOverlap(side, newPrice, book, instr.TickSize)
	}

	quantity := g.calculateQuantity(instr)
	orderCount := uint32(quantity / 1000)
	if orderCount < 1 {
		orderCount = 1
	}

	depth := len(book.Bids(1000))
	if side == types.SideAsk {
		depth = len(book.Asks(1000))
	}
	level := uint8(depth + 1)

	return types.QuoteUpdate{
		EventBase:  types.EventBase{InstrumentID: instr.ID, TsNs: uint64(time.Now().UnixNano()), Seq: g.nextSequence(instr.ID)},
		Side:       side,
		Price:      newPrice,
		Quantity:   quantity,
		Action:     action,
		OrderCount: orderCount,
		PriceLevel: &level,
	}
}

// bookInterface is the subset of *book.Book the generator needs, kept
// narrow to avoid an import cycle concern and to make this logic testable
// against a fake.
type bookInterface interface {
	BestBid() (float64, bool)
	BestAsk() (float64, bool)
	MidPrice() (float64, bool)
	Bids(maxLevels int) []types.PriceLevel
	Asks(maxLevels int) []types.PriceLevel
}

func (g *Generator) referencePrice(instr *types.Instrument, book bookInterface) float64 {
	if mid, ok := book.MidPrice(); ok {
		return mid
	}
	if initial, ok := instr.Float64Property("initial_price"); ok {
		return initial
	}
	return 100.0
}

func (g *Generator) chooseUpdateAction() types.UpdateAction {
	p := g.rng.Float64()
	switch {
	case p < 0.6:
		return types.ActionAdd
	case p < 0.8:
		return types.ActionChange
	default:
		return types.ActionDelete
	}
}

func (g *Generator) applyTickRounding(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}

func (g *Generator) enforceNonOverlap(side types.Side, price float64, book bookInterface, tickSize float64) float64 {
	if side == types.SideBid {
		if bestBid, ok := book.BestBid(); ok {
			return math.Min(price, bestBid-tickSize)
		}
	} else {
		if bestAsk, ok := book.BestAsk(); ok {
			return math.Max(price, bestAsk+tickSize)
		}
	}
	return price
}

func (g *Generator) calculateQuantity(instr *types.Instrument) uint64 {
	qty := uint64(g.poisson.Rand()) * 100
	if qty < 100 {
		qty = 100
	}
	if instr.Kind == types.KindFXSpot {
		qty *= 10_000
	}
	return qty
}
