package publisher

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxmdfeed/reutersfeed/internal/codec"
	"github.com/fxmdfeed/reutersfeed/internal/config"
	"github.com/fxmdfeed/reutersfeed/internal/metrics"
	"github.com/fxmdfeed/reutersfeed/internal/resilience"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

// fakeSender records every packet it is asked to send and can be made to
// fail on demand, so tests can exercise the lossy-send path without a real
// socket.
type fakeSender struct {
	mu      sync.Mutex
	packets [][]byte
	failWith error
	closed  bool
}

func (f *fakeSender) Send(packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	f.packets = append(f.packets, cp)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSender) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packets
}

func newTestPublisher(t *testing.T) (*Publisher, *fakeSender, *fakeSender, *channelState) {
	t.Helper()

	global := &channelState{id: globalChannelID, a: &fakeSender{}, b: &fakeSender{}}
	global.enabled.Store(true)

	ch1A := &fakeSender{}
	ch1B := &fakeSender{}
	ch1 := &channelState{id: 1, a: ch1A, b: ch1B}
	ch1.enabled.Store(true)

	secSender := &fakeSender{}
	snapSender := &fakeSender{}

	p := &Publisher{
		logger:            zap.NewNop(),
		metrics:           metrics.NewPublisherMetrics(prometheus.NewRegistry()),
		breakers:          resilience.NewCircuitBreakerFactory(resilience.Params{Logger: zap.NewNop()}),
		global:            global,
		channels:          map[int]*channelState{1: ch1},
		securityDefSender: secSender,
		snapshotSender:    snapSender,
		instrumentChannel: map[uint32]int{101: 1, 102: 1},
	}
	return p, ch1A, ch1B, ch1
}

func eurusd() *types.Instrument {
	instr := types.NewInstrument(101, "EURUSD", types.KindFXSpot)
	instr.TickSize = 0.0001
	return instr
}

func TestBuildInstrumentChannelMapRoutesBySymbol(t *testing.T) {
	instruments := []*types.Instrument{
		types.NewInstrument(1, "EURUSD", types.KindFXSpot),
		types.NewInstrument(2, "AUDUSD", types.KindFXSpot),
		types.NewInstrument(3, "UNLISTED", types.KindFXSpot),
	}
	feeds := []config.ChannelFeed{
		{ChannelID: 1, Instruments: []string{"EURUSD", "GBPUSD"}},
		{ChannelID: 2, Instruments: []string{"AUDUSD"}},
	}

	routes := buildInstrumentChannelMap(instruments, feeds)
	assert.Equal(t, 1, routes[1])
	assert.Equal(t, 2, routes[2])
	_, ok := routes[3]
	assert.False(t, ok, "an instrument with no matching symbol should not be routed")
}

func TestRouteForUsesConfiguredChannelWhenEnabled(t *testing.T) {
	p, _, _, ch1 := newTestPublisher(t)
	assert.Same(t, ch1, p.routeFor(101))
}

func TestRouteForFallsBackToGlobalWhenDisabled(t *testing.T) {
	p, _, _, ch1 := newTestPublisher(t)
	ch1.enabled.Store(false)
	assert.Same(t, p.global, p.routeFor(101))
}

func TestRouteForFallsBackToGlobalWhenUnrouted(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)
	assert.Same(t, p.global, p.routeFor(999))
}

func TestPublishIncrementalQuoteSendsOnBothLegsOfRoutedChannel(t *testing.T) {
	p, ch1A, ch1B, _ := newTestPublisher(t)

	event := types.QuoteUpdate{
		EventBase: types.EventBase{InstrumentID: 101, TsNs: 1_700_000_000_000_000_000, Seq: 7},
		Side:      types.SideBid,
		Price:     1.0850,
		Quantity:  1_000_000,
		Action:    types.ActionAdd,
	}

	require.NoError(t, p.PublishIncremental(event))

	assert.Len(t, ch1A.sent(), 1)
	assert.Len(t, ch1B.sent(), 1)
	assert.Equal(t, ch1A.sent()[0], ch1B.sent()[0], "A and B legs must carry identical packets")

	decoded, err := codec.DecodePacket(ch1A.sent()[0])
	require.NoError(t, err)
	assert.Equal(t, codec.TemplateMDIncrementalRefresh, decoded.L2.TemplateID)
	assert.Equal(t, uint64(1), decoded.L1.MsgSeqNum)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.MessagesSentA)
	assert.Equal(t, uint64(1), stats.MessagesSentB)
}

func TestPublishIncrementalTradeEncodesAggressorSide(t *testing.T) {
	p, ch1A, _, _ := newTestPublisher(t)

	side := types.SideAsk
	tradeID := "trade-1"
	event := types.Trade{
		EventBase:     types.EventBase{InstrumentID: 101, TsNs: 1, Seq: 1},
		Price:         1.09,
		Quantity:      500,
		AggressorSide: &side,
		TradeID:       &tradeID,
	}

	require.NoError(t, p.PublishIncremental(event))

	decoded, err := codec.DecodePacket(ch1A.sent()[0])
	require.NoError(t, err)
	assert.Equal(t, codec.TemplateMDIncrementalRefreshTrades, decoded.L2.TemplateID)

	securityID, entries, err := codec.DecodeMDIncrementalRefreshTrades(decoded.Body)
	require.NoError(t, err)
	assert.EqualValues(t, 101, securityID)
	require.Len(t, entries, 1)
	assert.Equal(t, codec.AggressorSell, entries[0].AggressorSide)
}

func TestPublishIncrementalUnroutedInstrumentUsesGlobal(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)
	globalA := p.global.a.(*fakeSender)

	event := types.QuoteUpdate{
		EventBase: types.EventBase{InstrumentID: 999, TsNs: 1, Seq: 1},
		Side:      types.SideAsk,
		Price:     2.0,
		Quantity:  100,
		Action:    types.ActionChange,
	}

	require.NoError(t, p.PublishIncremental(event))
	assert.Len(t, globalA.sent(), 1)
}

func TestPublishIncrementalSendFailureIsCountedNotFatal(t *testing.T) {
	p, ch1A, _, _ := newTestPublisher(t)
	ch1A.failWith = errors.New("network unreachable")

	event := types.QuoteUpdate{
		EventBase: types.EventBase{InstrumentID: 101, TsNs: 1, Seq: 1},
		Side:      types.SideBid,
		Price:     1.08,
		Quantity:  100,
		Action:    types.ActionAdd,
	}

	err := p.PublishIncremental(event)
	assert.Error(t, err, "a single leg failing is surfaced to the caller")
	assert.Equal(t, uint64(1), p.Stats().SendErrors)
}

func TestPublishSnapshotSendsOnSnapshotTransportOnly(t *testing.T) {
	p, ch1A, _, _ := newTestPublisher(t)
	snapSender := p.snapshotSender.(*fakeSender)

	price := 1.085
	snap := types.Snapshot{
		EventBase: types.EventBase{InstrumentID: 101, TsNs: 1, Seq: 1},
		BidLevels: []types.QuoteUpdate{{Price: price, Quantity: 1000}},
	}

	require.NoError(t, p.PublishSnapshot(eurusd(), snap))

	assert.Len(t, snapSender.sent(), 1)
	assert.Empty(t, ch1A.sent(), "a snapshot must not go out on the incremental channel")

	decoded, err := codec.DecodePacket(snapSender.sent()[0])
	require.NoError(t, err)
	assert.Equal(t, codec.TemplateMDFullRefresh, decoded.L2.TemplateID)

	assert.Equal(t, uint64(1), p.Stats().SnapshotsSent)
}

func TestPublishSecurityDefinitionSendsOnDedicatedTransport(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)
	secSender := p.securityDefSender.(*fakeSender)

	require.NoError(t, p.PublishSecurityDefinition(codec.SecurityDefinition{
		Symbol:     "EURUSD",
		SecurityID: 101,
	}))

	assert.Len(t, secSender.sent(), 1)
	assert.Equal(t, uint64(1), p.Stats().DefinitionsSent)
}

func TestSendHeartbeatsSkipsDisabledChannels(t *testing.T) {
	p, ch1A, ch1B, ch1 := newTestPublisher(t)
	ch1.enabled.Store(false)
	globalA := p.global.a.(*fakeSender)

	p.SendHeartbeats()

	assert.Len(t, globalA.sent(), 1)
	assert.Empty(t, ch1A.sent())
	assert.Empty(t, ch1B.sent())
	assert.Equal(t, uint64(1), p.Stats().HeartbeatsSent)
}

func TestSendHeartbeatsCoversEveryEnabledChannel(t *testing.T) {
	p, ch1A, ch1B, _ := newTestPublisher(t)

	p.SendHeartbeats()

	assert.Len(t, ch1A.sent(), 1)
	assert.Len(t, ch1B.sent(), 1)
	assert.Equal(t, uint64(2), p.Stats().HeartbeatsSent, "one heartbeat for the global channel, one for channel 1")
}

func TestShutdownEmitsEndOfConflationMarkerWhenConfigured(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)
	globalA := p.global.a.(*fakeSender)
	globalB := p.global.b.(*fakeSender)

	p.Shutdown(100)

	require.Len(t, globalA.sent(), 1)
	require.Len(t, globalB.sent(), 1)
	assert.Equal(t, globalA.sent()[0], globalB.sent()[0])

	decoded, err := codec.DecodeLegacyHeader(globalA.sent()[0])
	require.NoError(t, err)
	assert.Equal(t, codec.LegacyFlagEndOfStream, decoded.Flags)

	assert.True(t, globalA.closed)
	assert.True(t, p.securityDefSender.(*fakeSender).closed)
}

func TestShutdownSkipsMarkerWhenConflationDisabled(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)
	globalA := p.global.a.(*fakeSender)

	p.Shutdown(0)

	assert.Empty(t, globalA.sent())
	assert.True(t, globalA.closed, "sockets still close even without a conflation marker")
}

func TestSetChannelEnabledTogglesRouting(t *testing.T) {
	p, _, _, _ := newTestPublisher(t)

	p.SetChannelEnabled(1, false)
	assert.False(t, p.IsChannelEnabled(1))
	assert.Same(t, p.global, p.routeFor(101))

	p.SetChannelEnabled(1, true)
	assert.True(t, p.IsChannelEnabled(1))
}
