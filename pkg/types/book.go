package types

// PriceLevel is a single resting aggregate at a price on one side of a book.
type PriceLevel struct {
	Price            float64
	Quantity         uint64
	OrderCount       uint32
	LastUpdateTimeNs uint64
	ImpliedQuantity  *uint64
	MarketMakerID    *string
	LevelNumber      *uint8
}

// MarketStats holds the derived OHLC/VWAP/volume statistics for a book.
type MarketStats struct {
	OpenPrice          float64
	HighPrice          float64
	LowPrice           float64
	LastPrice          float64
	SettlementPrice    float64
	PreviousSettlement *float64
	TotalVolume        uint64
	TradeCount         uint64
	VWAP               float64
	OpenInterest       *uint64
	ClearedVolume      *uint64
}
