package codec

import (
	"encoding/binary"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// HeartbeatBlockLength is the (empty) fixed-block size of an admin
// heartbeat: the message is header-only.
const HeartbeatBlockLength = 0

// EncodeHeartbeat returns the empty heartbeat body.
func EncodeHeartbeat() []byte { return nil }

// SecurityDefinitionBlockLength is the fixed-block size of template 18.
const SecurityDefinitionBlockLength = 106

// SecurityDefinition is the fixed body of template 18.
type SecurityDefinition struct {
	SecurityUpdateAction   int8
	LastUpdateTimeNs       uint64
	MDEntryOriginator      string // ≤16 bytes
	Symbol                 string // ≤16 bytes
	SecurityID             int32
	SecurityIDSource       uint32
	SecurityType           int8
	SettlementYear         uint16
	SettlementMonth        uint8
	SettlementDay          uint8
	Currency1              string // ≤3 bytes
	Currency2              string // ≤3 bytes
	PricePrecision         int8
	SizePrecision          int8
	DepthOfBook            uint8
	MinTradeVol            int64
	ConflationIntervalAMs  uint32
	ConflationIntervalBMs  uint32
}

// EncodeSecurityDefinition builds the SecurityDefinitionBlockLength-byte
// fixed body for template 18.
func EncodeSecurityDefinition(def SecurityDefinition) []byte {
	buf := make([]byte, SecurityDefinitionBlockLength)
	buf[0] = uint8(def.SecurityUpdateAction)
	binary.LittleEndian.PutUint64(buf[1:9], def.LastUpdateTimeNs)
	PutFixedString(buf[9:25], def.MDEntryOriginator)
	PutFixedString(buf[25:41], def.Symbol)
	binary.LittleEndian.PutUint32(buf[41:45], uint32(def.SecurityID))
	binary.LittleEndian.PutUint32(buf[45:49], def.SecurityIDSource)
	buf[49] = uint8(def.SecurityType)
	binary.LittleEndian.PutUint16(buf[50:52], def.SettlementYear)
	buf[52] = def.SettlementMonth
	buf[53] = def.SettlementDay
	PutFixedString(buf[54:57], def.Currency1)
	PutFixedString(buf[57:60], def.Currency2)
	buf[60] = uint8(def.PricePrecision)
	buf[61] = uint8(def.SizePrecision)
	buf[62] = def.DepthOfBook
	binary.LittleEndian.PutUint64(buf[63:71], uint64(def.MinTradeVol))
	binary.LittleEndian.PutUint32(buf[71:75], def.ConflationIntervalAMs)
	binary.LittleEndian.PutUint32(buf[75:79], def.ConflationIntervalBMs)
	// buf[79:106] is reserved, already zero.
	return buf
}

// DecodeSecurityDefinition parses a template-18 fixed body.
func DecodeSecurityDefinition(buf []byte) (SecurityDefinition, error) {
	if len(buf) < SecurityDefinitionBlockLength {
		return SecurityDefinition{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "security_definition body shorter than %d bytes", SecurityDefinitionBlockLength)
	}
	return SecurityDefinition{
		SecurityUpdateAction:  int8(buf[0]),
		LastUpdateTimeNs:      binary.LittleEndian.Uint64(buf[1:9]),
		MDEntryOriginator:     FixedString(buf[9:25]),
		Symbol:                FixedString(buf[25:41]),
		SecurityID:            int32(binary.LittleEndian.Uint32(buf[41:45])),
		SecurityIDSource:      binary.LittleEndian.Uint32(buf[45:49]),
		SecurityType:          int8(buf[49]),
		SettlementYear:        binary.LittleEndian.Uint16(buf[50:52]),
		SettlementMonth:       buf[52],
		SettlementDay:         buf[53],
		Currency1:             FixedString(buf[54:57]),
		Currency2:             FixedString(buf[57:60]),
		PricePrecision:        int8(buf[60]),
		SizePrecision:         int8(buf[61]),
		DepthOfBook:           buf[62],
		MinTradeVol:           int64(binary.LittleEndian.Uint64(buf[63:71])),
		ConflationIntervalAMs: binary.LittleEndian.Uint32(buf[71:75]),
		ConflationIntervalBMs: binary.LittleEndian.Uint32(buf[75:79]),
	}, nil
}

// MD entry type codes shared by templates 20 and 21.
const (
	MDEntryTypeBid   int8 = '0'
	MDEntryTypeOffer int8 = '1'
	MDEntryTypeTrade int8 = '2'
)

// MDUpdateAction codes for template 21 entries.
const (
	MDUpdateNew    int8 = 0
	MDUpdateChange int8 = 1
	MDUpdateDelete int8 = 2
)

// AggressorSide codes for template 111 entries.
const (
	AggressorNone int8 = 0
	AggressorBuy  int8 = 1
	AggressorSell int8 = 2
)

// MDFullRefreshBlockLength is the fixed-block size of template 20.
const MDFullRefreshBlockLength = 42

// MDFullRefreshEntrySize is the size of one repeating-group entry in
// template 20.
const MDFullRefreshEntrySize = 17

// MDFullRefresh is the fixed body of template 20.
type MDFullRefresh struct {
	LastMsgSeqNumProcessed uint64
	SecurityID             int32
	RptSeq                 uint32
	TransactTimeNs         uint64
	MDEntryOriginator      string // ≤16 bytes
	MarketDepth            uint8
	SecurityType           int8
}

// MDFullRefreshEntry is one level in a template-20 repeating group.
type MDFullRefreshEntry struct {
	MDEntryType int8
	Price       *float64
	MDEntrySize int64
}

// EncodeMDFullRefresh builds the fixed block, group header, and entries for
// template 20.
func EncodeMDFullRefresh(body MDFullRefresh, entries []MDFullRefreshEntry) ([]byte, error) {
	buf := make([]byte, MDFullRefreshBlockLength+GroupHeaderSize+len(entries)*MDFullRefreshEntrySize)

	binary.LittleEndian.PutUint64(buf[0:8], body.LastMsgSeqNumProcessed)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(body.SecurityID))
	binary.LittleEndian.PutUint32(buf[12:16], body.RptSeq)
	binary.LittleEndian.PutUint64(buf[16:24], body.TransactTimeNs)
	PutFixedString(buf[24:40], body.MDEntryOriginator)
	buf[40] = body.MarketDepth
	buf[41] = uint8(body.SecurityType)

	PutGroupHeader(buf[MDFullRefreshBlockLength:MDFullRefreshBlockLength+GroupHeaderSize], GroupHeader{
		BlockLength: MDFullRefreshEntrySize,
		NumInGroup:  uint16(len(entries)),
	})

	offset := MDFullRefreshBlockLength + GroupHeaderSize
	for _, e := range entries {
		mantissa, err := EncodePrice(e.Price)
		if err != nil {
			return nil, err
		}
		entry := buf[offset : offset+MDFullRefreshEntrySize]
		entry[0] = uint8(e.MDEntryType)
		binary.LittleEndian.PutUint64(entry[1:9], uint64(mantissa))
		binary.LittleEndian.PutUint64(entry[9:17], uint64(e.MDEntrySize))
		offset += MDFullRefreshEntrySize
	}
	return buf, nil
}

// DecodeMDFullRefresh parses a template-20 body (fixed block plus its
// repeating group).
func DecodeMDFullRefresh(buf []byte) (MDFullRefresh, []MDFullRefreshEntry, error) {
	if len(buf) < MDFullRefreshBlockLength+GroupHeaderSize {
		return MDFullRefresh{}, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_full_refresh body too short")
	}
	body := MDFullRefresh{
		LastMsgSeqNumProcessed: binary.LittleEndian.Uint64(buf[0:8]),
		SecurityID:             int32(binary.LittleEndian.Uint32(buf[8:12])),
		RptSeq:                 binary.LittleEndian.Uint32(buf[12:16]),
		TransactTimeNs:         binary.LittleEndian.Uint64(buf[16:24]),
		MDEntryOriginator:      FixedString(buf[24:40]),
		MarketDepth:            buf[40],
		SecurityType:           int8(buf[41]),
	}

	group, err := DecodeGroupHeader(buf[MDFullRefreshBlockLength : MDFullRefreshBlockLength+GroupHeaderSize])
	if err != nil {
		return body, nil, err
	}

	offset := MDFullRefreshBlockLength + GroupHeaderSize
	entries := make([]MDFullRefreshEntry, 0, group.NumInGroup)
	for i := uint16(0); i < group.NumInGroup; i++ {
		if offset+MDFullRefreshEntrySize > len(buf) {
			return body, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_full_refresh entry %d truncated", i)
		}
		entry := buf[offset : offset+MDFullRefreshEntrySize]
		mantissa := int64(binary.LittleEndian.Uint64(entry[1:9]))
		price, hasPrice := DecodePrice(mantissa)
		e := MDFullRefreshEntry{
			MDEntryType: int8(entry[0]),
			MDEntrySize: int64(binary.LittleEndian.Uint64(entry[9:17])),
		}
		if hasPrice {
			e.Price = &price
		}
		entries = append(entries, e)
		offset += MDFullRefreshEntrySize
	}
	return body, entries, nil
}

// MDIncrementalRefreshBlockLength is the fixed-block size of template 21.
const MDIncrementalRefreshBlockLength = 32

// MDIncrementalRefreshEntrySize is the size of one repeating-group entry in
// template 21.
const MDIncrementalRefreshEntrySize = 18

// MDIncrementalRefresh is the fixed body of template 21.
type MDIncrementalRefresh struct {
	SecurityID        int32
	RptSeq            uint32
	TransactTimeNs    uint64
	MDEntryOriginator string // ≤16 bytes
}

// MDIncrementalRefreshEntry is one update in a template-21 repeating group.
type MDIncrementalRefreshEntry struct {
	MDUpdateAction int8
	MDEntryType    int8
	Price          *float64
	Size           int64
}

// EncodeMDIncrementalRefresh builds the fixed block, group header, and
// entries for template 21.
func EncodeMDIncrementalRefresh(body MDIncrementalRefresh, entries []MDIncrementalRefreshEntry) ([]byte, error) {
	buf := make([]byte, MDIncrementalRefreshBlockLength+GroupHeaderSize+len(entries)*MDIncrementalRefreshEntrySize)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(body.SecurityID))
	binary.LittleEndian.PutUint32(buf[4:8], body.RptSeq)
	binary.LittleEndian.PutUint64(buf[8:16], body.TransactTimeNs)
	PutFixedString(buf[16:32], body.MDEntryOriginator)

	PutGroupHeader(buf[MDIncrementalRefreshBlockLength:MDIncrementalRefreshBlockLength+GroupHeaderSize], GroupHeader{
		BlockLength: MDIncrementalRefreshEntrySize,
		NumInGroup:  uint16(len(entries)),
	})

	offset := MDIncrementalRefreshBlockLength + GroupHeaderSize
	for _, e := range entries {
		mantissa, err := EncodePrice(e.Price)
		if err != nil {
			return nil, err
		}
		entry := buf[offset : offset+MDIncrementalRefreshEntrySize]
		entry[0] = uint8(e.MDUpdateAction)
		entry[1] = uint8(e.MDEntryType)
		binary.LittleEndian.PutUint64(entry[2:10], uint64(mantissa))
		binary.LittleEndian.PutUint64(entry[10:18], uint64(e.Size))
		offset += MDIncrementalRefreshEntrySize
	}
	return buf, nil
}

// DecodeMDIncrementalRefresh parses a template-21 body.
func DecodeMDIncrementalRefresh(buf []byte) (MDIncrementalRefresh, []MDIncrementalRefreshEntry, error) {
	if len(buf) < MDIncrementalRefreshBlockLength+GroupHeaderSize {
		return MDIncrementalRefresh{}, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_incremental_refresh body too short")
	}
	body := MDIncrementalRefresh{
		SecurityID:        int32(binary.LittleEndian.Uint32(buf[0:4])),
		RptSeq:            binary.LittleEndian.Uint32(buf[4:8]),
		TransactTimeNs:    binary.LittleEndian.Uint64(buf[8:16]),
		MDEntryOriginator: FixedString(buf[16:32]),
	}

	group, err := DecodeGroupHeader(buf[MDIncrementalRefreshBlockLength : MDIncrementalRefreshBlockLength+GroupHeaderSize])
	if err != nil {
		return body, nil, err
	}

	offset := MDIncrementalRefreshBlockLength + GroupHeaderSize
	entries := make([]MDIncrementalRefreshEntry, 0, group.NumInGroup)
	for i := uint16(0); i < group.NumInGroup; i++ {
		if offset+MDIncrementalRefreshEntrySize > len(buf) {
			return body, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_incremental_refresh entry %d truncated", i)
		}
		entry := buf[offset : offset+MDIncrementalRefreshEntrySize]
		mantissa := int64(binary.LittleEndian.Uint64(entry[2:10]))
		price, hasPrice := DecodePrice(mantissa)
		e := MDIncrementalRefreshEntry{
			MDUpdateAction: int8(entry[0]),
			MDEntryType:    int8(entry[1]),
			Size:           int64(binary.LittleEndian.Uint64(entry[10:18])),
		}
		if hasPrice {
			e.Price = &price
		}
		entries = append(entries, e)
		offset += MDIncrementalRefreshEntrySize
	}
	return body, entries, nil
}

// MDIncrementalRefreshTradesBlockLength is the fixed-block size of
// template 111.
const MDIncrementalRefreshTradesBlockLength = 4

// MDIncrementalRefreshTradesEntrySize is the size of one repeating-group
// entry in template 111.
const MDIncrementalRefreshTradesEntrySize = 25

// MDIncrementalRefreshTradesEntry is one trade in a template-111 repeating
// group.
type MDIncrementalRefreshTradesEntry struct {
	TransactTimeNs uint64
	Price          *float64
	Size           int64
	AggressorSide  int8
}

// EncodeMDIncrementalRefreshTrades builds the fixed block, group header,
// and entries for template 111.
func EncodeMDIncrementalRefreshTrades(securityID int32, entries []MDIncrementalRefreshTradesEntry) ([]byte, error) {
	buf := make([]byte, MDIncrementalRefreshTradesBlockLength+GroupHeaderSize+len(entries)*MDIncrementalRefreshTradesEntrySize)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(securityID))

	PutGroupHeader(buf[MDIncrementalRefreshTradesBlockLength:MDIncrementalRefreshTradesBlockLength+GroupHeaderSize], GroupHeader{
		BlockLength: MDIncrementalRefreshTradesEntrySize,
		NumInGroup:  uint16(len(entries)),
	})

	offset := MDIncrementalRefreshTradesBlockLength + GroupHeaderSize
	for _, e := range entries {
		mantissa, err := EncodePrice(e.Price)
		if err != nil {
			return nil, err
		}
		entry := buf[offset : offset+MDIncrementalRefreshTradesEntrySize]
		binary.LittleEndian.PutUint64(entry[0:8], e.TransactTimeNs)
		binary.LittleEndian.PutUint64(entry[8:16], uint64(mantissa))
		binary.LittleEndian.PutUint64(entry[16:24], uint64(e.Size))
		entry[24] = uint8(e.AggressorSide)
		offset += MDIncrementalRefreshTradesEntrySize
	}
	return buf, nil
}

// DecodeMDIncrementalRefreshTrades parses a template-111 body.
func DecodeMDIncrementalRefreshTrades(buf []byte) (int32, []MDIncrementalRefreshTradesEntry, error) {
	if len(buf) < MDIncrementalRefreshTradesBlockLength+GroupHeaderSize {
		return 0, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_incremental_refresh_trades body too short")
	}
	securityID := int32(binary.LittleEndian.Uint32(buf[0:4]))

	group, err := DecodeGroupHeader(buf[MDIncrementalRefreshTradesBlockLength : MDIncrementalRefreshTradesBlockLength+GroupHeaderSize])
	if err != nil {
		return securityID, nil, err
	}

	offset := MDIncrementalRefreshTradesBlockLength + GroupHeaderSize
	entries := make([]MDIncrementalRefreshTradesEntry, 0, group.NumInGroup)
	for i := uint16(0); i < group.NumInGroup; i++ {
		if offset+MDIncrementalRefreshTradesEntrySize > len(buf) {
			return securityID, nil, apperrors.Newf(apperrors.ErrTruncatedHeader, "md_incremental_refresh_trades entry %d truncated", i)
		}
		entry := buf[offset : offset+MDIncrementalRefreshTradesEntrySize]
		mantissa := int64(binary.LittleEndian.Uint64(entry[8:16]))
		price, hasPrice := DecodePrice(mantissa)
		e := MDIncrementalRefreshTradesEntry{
			TransactTimeNs: binary.LittleEndian.Uint64(entry[0:8]),
			Size:           int64(binary.LittleEndian.Uint64(entry[16:24])),
			AggressorSide:  int8(entry[24]),
		}
		if hasPrice {
			e.Price = &price
		}
		entries = append(entries, e)
		offset += MDIncrementalRefreshTradesEntrySize
	}
	return securityID, entries, nil
}
