package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePrice(t *testing.T) {
	price := 1.0850
	mantissa, err := EncodePrice(&price)
	require.NoError(t, err)
	assert.Equal(t, int64(1_085_000_000), mantissa)

	decoded, ok := DecodePrice(mantissa)
	require.True(t, ok)
	assert.InDelta(t, price, decoded, 1e-9)
}

func TestEncodePriceNilIsNullSentinel(t *testing.T) {
	mantissa, err := EncodePrice(nil)
	require.NoError(t, err)
	assert.Equal(t, nullMantissa, mantissa)

	_, ok := DecodePrice(mantissa)
	assert.False(t, ok)
}

func TestFixedStringRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	PutFixedString(buf, "EURUSD")
	assert.Equal(t, "EURUSD", FixedString(buf))

	// Zero padding beyond the written bytes.
	for i := 6; i < 16; i++ {
		assert.Equal(t, byte(0), buf[i])
	}
}

func TestFixedStringTruncatesOverlong(t *testing.T) {
	buf := make([]byte, 3)
	PutFixedString(buf, "EURUSD")
	assert.Equal(t, "EUR", FixedString(buf))
}

func TestL1HeaderRoundTrip(t *testing.T) {
	buf := make([]byte, L1HeaderSize)
	PutL1Header(buf, L1Header{
		MsgSeqNum:     42,
		SendingTimeNs: 1_700_000_000_000_000_000,
		HdrLen:        L1HeaderSize,
		HdrVer:        1,
		PacketLen:     100,
	})

	decoded, err := DecodeL1Header(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.MsgSeqNum)
	assert.Equal(t, uint64(1_700_000_000_000_000_000), decoded.SendingTimeNs)
	assert.Equal(t, uint16(100), decoded.PacketLen)
}

func TestDecodeL1HeaderTruncated(t *testing.T) {
	_, err := DecodeL1Header(make([]byte, 10))
	assert.Error(t, err)
}

// TestIncrementalRefreshRoundTrip mirrors the encoding round-trip scenario:
// security id 1001, rpt seq 42, one entry {new, bid, 1.08500, 1_000_000}.
func TestIncrementalRefreshRoundTrip(t *testing.T) {
	price := 1.085
	body := MDIncrementalRefresh{
		SecurityID:     1001,
		RptSeq:         42,
		TransactTimeNs: 1_700_000_000_000_000_000,
	}
	entries := []MDIncrementalRefreshEntry{
		{MDUpdateAction: MDUpdateNew, MDEntryType: MDEntryTypeBid, Price: &price, Size: 1_000_000},
	}

	encodedBody, err := EncodeMDIncrementalRefresh(body, entries)
	require.NoError(t, err)
	assert.Len(t, encodedBody, MDIncrementalRefreshBlockLength+GroupHeaderSize+MDIncrementalRefreshEntrySize)

	message, err := BuildMessage(TemplateMDIncrementalRefresh, MDIncrementalRefreshBlockLength, encodedBody, 0)
	require.NoError(t, err)

	packet, err := WrapPacket(1, 1_700_000_000_000_000_000, message)
	require.NoError(t, err)

	expectedTotal := L1HeaderSize + L2HeaderSize + MDIncrementalRefreshBlockLength + GroupHeaderSize + MDIncrementalRefreshEntrySize
	assert.Len(t, packet, expectedTotal)

	decodedPacket, err := DecodePacket(packet)
	require.NoError(t, err)
	assert.Equal(t, TemplateMDIncrementalRefresh, decodedPacket.L2.TemplateID)
	assert.Equal(t, SchemaID, decodedPacket.L2.SchemaID)

	decodedBody, decodedEntries, err := DecodeMDIncrementalRefresh(decodedPacket.Body)
	require.NoError(t, err)
	assert.Equal(t, int32(1001), decodedBody.SecurityID)
	assert.Equal(t, uint32(42), decodedBody.RptSeq)
	assert.Equal(t, uint64(1_700_000_000_000_000_000), decodedBody.TransactTimeNs)
	require.Len(t, decodedEntries, 1)
	assert.Equal(t, MDUpdateNew, decodedEntries[0].MDUpdateAction)
	assert.Equal(t, MDEntryTypeBid, decodedEntries[0].MDEntryType)
	require.NotNil(t, decodedEntries[0].Price)
	assert.InDelta(t, 1.085, *decodedEntries[0].Price, 1e-9)
	assert.Equal(t, int64(1_000_000), decodedEntries[0].Size)
}

func TestSecurityDefinitionRoundTrip(t *testing.T) {
	def := SecurityDefinition{
		SecurityUpdateAction: 0,
		LastUpdateTimeNs:     1_700_000_000_000_000_000,
		MDEntryOriginator:    "SIM",
		Symbol:               "EURUSD",
		SecurityID:           1001,
		SecurityIDSource:     8,
		SecurityType:         1,
		SettlementYear:       2026,
		SettlementMonth:      7,
		SettlementDay:        31,
		Currency1:            "EUR",
		Currency2:            "USD",
		PricePrecision:       5,
		SizePrecision:        0,
		DepthOfBook:          10,
		MinTradeVol:          1000,
		ConflationIntervalAMs: 0,
		ConflationIntervalBMs: 0,
	}

	encoded := EncodeSecurityDefinition(def)
	assert.Len(t, encoded, SecurityDefinitionBlockLength)

	decoded, err := DecodeSecurityDefinition(encoded)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", decoded.Symbol)
	assert.Equal(t, "EUR", decoded.Currency1)
	assert.Equal(t, "USD", decoded.Currency2)
	assert.Equal(t, int32(1001), decoded.SecurityID)
	assert.Equal(t, uint16(2026), decoded.SettlementYear)
}

func TestBuildMessageEnforcesSizeCap(t *testing.T) {
	body := make([]byte, 100)
	_, err := BuildMessage(TemplateMDFullRefresh, MDFullRefreshBlockLength, body, 50)
	assert.Error(t, err)
}

func TestWrapPacketEnforcesUDPPayloadLimit(t *testing.T) {
	oversized := make([]byte, MaxUDPPayload+1)
	_, err := WrapPacket(1, 1, oversized)
	assert.Error(t, err)
}

func TestMDIncrementalRefreshTradesRoundTrip(t *testing.T) {
	price := 1.0901
	entries := []MDIncrementalRefreshTradesEntry{
		{TransactTimeNs: 1_700_000_000_000_000_000, Price: &price, Size: 500_000, AggressorSide: AggressorBuy},
	}
	body, err := EncodeMDIncrementalRefreshTrades(1001, entries)
	require.NoError(t, err)

	securityID, decodedEntries, err := DecodeMDIncrementalRefreshTrades(body)
	require.NoError(t, err)
	assert.Equal(t, int32(1001), securityID)
	require.Len(t, decodedEntries, 1)
	assert.Equal(t, AggressorBuy, decodedEntries[0].AggressorSide)
	require.NotNil(t, decodedEntries[0].Price)
	assert.InDelta(t, 1.0901, *decodedEntries[0].Price, 1e-9)
}
