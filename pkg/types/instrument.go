package types

import "sync"

// Kind discriminates the tradable product categories the feed can carry.
type Kind string

const (
	KindFuture    Kind = "future"
	KindOption    Kind = "option"
	KindFXSpot    Kind = "fx_spot"
	KindFXForward Kind = "fx_forward"
	KindEquity    Kind = "equity"
	KindSpread    Kind = "spread"
	KindUnknown   Kind = "unknown"
)

// FutureDetails holds fields specific to futures contracts.
type FutureDetails struct {
	Underlying        string
	MaturityDate      string
	ContractMonth     string
	ContractSize      float64
	InitialMargin     float64
	MaintenanceMargin float64
}

// OptionDetails holds fields specific to option contracts.
type OptionDetails struct {
	Underlying     string
	StrikePrice    float64
	ExpiryDate     string
	OptionType     string // "call" | "put"
	ExerciseStyle  string // "american" | "european"
}

// FXSpotDetails holds fields specific to FX spot instruments.
type FXSpotDetails struct {
	BaseCurrency         string
	QuoteCurrency        string
	SettlementConvention string
	StandardLotSize      float64
	PrimaryVenue         *string
}

// SpreadDetails holds the leg composition of a spread instrument.
type SpreadDetails struct {
	LegInstrumentIDs []uint32
	LegRatios        []int
}

// Instrument is an identified tradable product. Identity is immutable once
// created; Properties may be updated but the instrument is never removed
// while the server runs.
type Instrument struct {
	ID                uint32
	Symbol            string
	Kind              Kind
	Description       string
	TickSize          float64
	Multiplier        float64
	MinPriceIncrement float64
	MaxPriceVariation *float64

	// ExternalIDs maps a protocol name (e.g. "CME_SECURITY_ID") to this
	// instrument's symbol under that protocol.
	ExternalIDs map[string]string

	Future *FutureDetails
	Option *OptionDetails
	FXSpot *FXSpotDetails
	Spread *SpreadDetails

	mu         sync.RWMutex
	properties map[string]any
}

// NewInstrument builds an instrument with sane trading defaults.
func NewInstrument(id uint32, symbol string, kind Kind) *Instrument {
	return &Instrument{
		ID:                id,
		Symbol:            symbol,
		Kind:              kind,
		TickSize:          0.01,
		Multiplier:        1.0,
		MinPriceIncrement: 0.01,
		ExternalIDs:       make(map[string]string),
		properties:        make(map[string]any),
	}
}

// SetProperty records or overwrites a property value. Value must be one of
// int64, float64, string, or bool.
func (i *Instrument) SetProperty(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.properties[key] = value
}

// Property returns a raw property value and whether it was present.
func (i *Instrument) Property(key string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.properties[key]
	return v, ok
}

// Float64Property returns a property coerced to float64, if present and of
// that type.
func (i *Instrument) Float64Property(key string) (float64, bool) {
	v, ok := i.Property(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ExternalID returns the external symbol registered for a protocol name.
func (i *Instrument) ExternalID(protocol string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.ExternalIDs[protocol]
	return id, ok
}

// SetExternalID registers the external symbol for a protocol name.
func (i *Instrument) SetExternalID(protocol, symbol string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ExternalIDs[protocol] = symbol
}
