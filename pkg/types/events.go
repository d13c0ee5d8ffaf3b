package types

// Side identifies a book side or a trade aggressor side.
type Side int

const (
	SideNone Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "none"
	}
}

// UpdateAction describes how a quote_update mutates a price level.
type UpdateAction int

const (
	ActionAdd UpdateAction = iota
	ActionChange
	ActionDelete
	ActionOverlay
	ActionClear
)

// StatType enumerates the kinds of datum a Statistics event carries.
type StatType int

const (
	StatOpen StatType = iota
	StatHigh
	StatLow
	StatClose
	StatSettlement
	StatVWAP
	StatTradeVolume
)

// Status enumerates instrument trading-session states.
type Status int

const (
	StatusPreOpen Status = iota
	StatusOpeningAuction
	StatusContinuous
	StatusClosingAuction
	StatusPostClose
	StatusHalted
	StatusPaused
)

// EventType tags the concrete type behind the MarketEvent interface.
type EventType int

const (
	EventQuoteUpdate EventType = iota
	EventTrade
	EventSnapshot
	EventStatistics
	EventStatusChange
	EventBookClear
	EventImbalance
)

// MarketEvent is the sum type produced by the generator and consumed by the
// book manager and the publisher. Concrete cases are QuoteUpdate, Trade,
// Snapshot, Statistics, StatusChange, BookClear, and Imbalance.
type MarketEvent interface {
	Type() EventType
	Instrument() uint32
	Timestamp() uint64
	Sequence() uint32
}

// EventBase carries the fields common to every market event and is embedded
// by each concrete event type.
type EventBase struct {
	InstrumentID uint32
	TsNs         uint64
	Seq          uint32
}

func (b EventBase) Instrument() uint32 { return b.InstrumentID }
func (b EventBase) Timestamp() uint64  { return b.TsNs }
func (b EventBase) Sequence() uint32   { return b.Seq }

// QuoteUpdate conveys a change to a single price level.
type QuoteUpdate struct {
	EventBase
	Side             Side
	Price            float64
	Quantity         uint64
	Action           UpdateAction
	OrderCount       uint32
	PriceLevel       *uint8
	RptSeq           *uint32
	MarketMaker      *string
	ImpliedQuantity  *uint64
}

func (QuoteUpdate) Type() EventType { return EventQuoteUpdate }

// Trade conveys a synthesized execution.
type Trade struct {
	EventBase
	Price         float64
	Quantity      uint64
	AggressorSide *Side
	TradeID       *string
	RptSeq        *uint32
}

func (Trade) Type() EventType { return EventTrade }

// Snapshot conveys the full current book state for an instrument.
type Snapshot struct {
	EventBase
	BidLevels      []QuoteUpdate
	AskLevels      []QuoteUpdate
	LastTradePrice *float64
	TotalVolume    *uint64
	RptSeq         *uint32
}

func (Snapshot) Type() EventType { return EventSnapshot }

// Statistics conveys a single OHLC/VWAP/volume datum.
type Statistics struct {
	EventBase
	StatType StatType
	Value    float64
	Volume   *uint64
}

func (Statistics) Type() EventType { return EventStatistics }

// StatusChange conveys a trading-session state transition.
type StatusChange struct {
	EventBase
	Status     Status
	HaltReason *string
}

func (StatusChange) Type() EventType { return EventStatusChange }

// BookClear conveys that an instrument's book should be fully reset.
type BookClear struct {
	EventBase
}

func (BookClear) Type() EventType { return EventBookClear }

// Imbalance is reserved for a future auction-imbalance event.
type Imbalance struct {
	EventBase
}

func (Imbalance) Type() EventType { return EventImbalance }
