// Package publisher turns book-manager events into the wire packets
// described by the multicast feed: channel-routed incremental updates,
// periodic snapshots, security definitions, and heartbeats, each wrapped
// with the L1 transport header and an atomically assigned per-channel
// sequence number.
package publisher

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxmdfeed/reutersfeed/internal/bookmanager"
	"github.com/fxmdfeed/reutersfeed/internal/codec"
	"github.com/fxmdfeed/reutersfeed/internal/config"
	"github.com/fxmdfeed/reutersfeed/internal/metrics"
	"github.com/fxmdfeed/reutersfeed/internal/resilience"
	"github.com/fxmdfeed/reutersfeed/internal/transport"
	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

// globalChannelID is the sentinel channel id for the feed's global A/B
// transports: the destination for any instrument that hashes to no
// configured per-channel feed, and the channel every snapshot, security
// definition, and end-of-conflation marker sequences against.
const globalChannelID = 0

// Sender is the subset of *transport.Sender the publisher depends on, kept
// narrow so tests can exercise routing and failure handling against a fake.
type Sender interface {
	Send(packet []byte) error
	Close() error
}

// Module provides a *Publisher to the fx graph.
var Module = fx.Options(
	fx.Provide(NewFromParams),
)

// Params is the fx.In parameter object for NewFromParams.
type Params struct {
	fx.In

	Config   *config.MulticastConfig
	Manager  *bookmanager.Manager
	Metrics  *metrics.PublisherMetrics
	Breakers *resilience.CircuitBreakerFactory
	Logger   *zap.Logger
}

// NewFromParams adapts Params to New for fx wiring.
func NewFromParams(p Params) (*Publisher, error) {
	return New(p.Config, p.Manager, p.Metrics, p.Breakers, p.Logger)
}

// channelState is one channel's pair of A/B transports, its enabled flag,
// and the sequence counter shared by both legs (A and B carry identical
// packets, so they share one msg_seq_num stream).
type channelState struct {
	id      int
	a       Sender
	b       Sender
	enabled atomic.Bool
	seq     atomic.Uint64
}

// Publisher owns every outbound transport for the feed and the routing,
// sequencing, and statistics around them.
type Publisher struct {
	logger   *zap.Logger
	metrics  *metrics.PublisherMetrics
	breakers *resilience.CircuitBreakerFactory

	global            *channelState
	channels          map[int]*channelState
	securityDefSender Sender
	snapshotSender    Sender
	instrumentChannel map[uint32]int

	messagesSentA   atomic.Uint64
	messagesSentB   atomic.Uint64
	snapshotsSent   atomic.Uint64
	definitionsSent atomic.Uint64
	heartbeatsSent  atomic.Uint64
	bytesSent       atomic.Uint64
	sendErrors      atomic.Uint64
	encodeDrops     atomic.Uint64
}

// Statistics is a point-in-time copy of the publisher's counters, suitable
// for logging or printing at shutdown.
type Statistics struct {
	MessagesSentA   uint64
	MessagesSentB   uint64
	SnapshotsSent   uint64
	DefinitionsSent uint64
	HeartbeatsSent  uint64
	BytesSent       uint64
	SendErrors      uint64
	EncodeDrops     uint64
}

// New dials every transport the config describes, builds the
// instrument-to-channel routing table, and returns a ready Publisher. A
// socket that fails to dial aborts initialization and closes whatever was
// already opened.
func New(cfg *config.MulticastConfig, manager *bookmanager.Manager, metricsSet *metrics.PublisherMetrics, breakers *resilience.CircuitBreakerFactory, logger *zap.Logger) (*Publisher, error) {
	ttl := ttlOverride()

	opened := make([]Sender, 0, 8)
	dial := func(feed config.ChannelFeed) (Sender, error) {
		s, err := transport.Dial(transport.SenderConfig{
			MulticastIP: feed.MulticastIP,
			Port:        feed.Port,
			InterfaceIP: feed.InterfaceIP,
			TTL:         ttl,
		})
		if err != nil {
			return nil, err
		}
		opened = append(opened, s)
		return s, nil
	}
	abort := func(err error) (*Publisher, error) {
		for _, s := range opened {
			s.Close()
		}
		return nil, err
	}

	globalA, err := dial(cfg.IncrementalFeedA)
	if err != nil {
		return abort(err)
	}
	globalB, err := dial(cfg.IncrementalFeedB)
	if err != nil {
		return abort(err)
	}
	secSender, err := dial(cfg.SecurityDefinitionFeed)
	if err != nil {
		return abort(err)
	}
	snapSender, err := dial(cfg.SnapshotFeed)
	if err != nil {
		return abort(err)
	}

	global := &channelState{id: globalChannelID, a: globalA, b: globalB}
	global.enabled.Store(true)

	channels := make(map[int]*channelState, len(cfg.ChannelFeedsA))
	for _, feed := range cfg.ChannelFeedsA {
		a, err := dial(feed)
		if err != nil {
			return abort(err)
		}
		ch := &channelState{id: feed.ChannelID, a: a}
		ch.enabled.Store(true)
		channels[feed.ChannelID] = ch
	}
	for _, feed := range cfg.ChannelFeedsB {
		ch, ok := channels[feed.ChannelID]
		if !ok {
			ch = &channelState{id: feed.ChannelID}
			ch.enabled.Store(true)
			channels[feed.ChannelID] = ch
		}
		b, err := dial(feed)
		if err != nil {
			return abort(err)
		}
		ch.b = b
	}

	p := &Publisher{
		logger:            logger,
		metrics:           metricsSet,
		breakers:          breakers,
		global:            global,
		channels:          channels,
		securityDefSender: secSender,
		snapshotSender:    snapSender,
		instrumentChannel: buildInstrumentChannelMap(manager.Instruments(), cfg.ChannelFeedsA),
	}
	p.metrics.SetActiveChannels(len(channels))
	return p, nil
}

// ttlOverride reads MULTICAST_TTL, returning 0 (meaning "use the
// transport's default") if it is unset or not a valid positive integer.
func ttlOverride() int {
	v := os.Getenv("MULTICAST_TTL")
	if v == "" {
		return 0
	}
	ttl, err := strconv.Atoi(v)
	if err != nil || ttl <= 0 {
		return 0
	}
	return ttl
}

// buildInstrumentChannelMap hashes each channel's declared symbol list
// (via a Go map, rather than the truncated std::hash<string> the original
// used, since this feed already has stable numeric instrument ids, so the
// hash only needs to key the lookup, not mint the id) into an
// instrument-id-to-channel-id routing table.
func buildInstrumentChannelMap(instruments []*types.Instrument, feeds []config.ChannelFeed) map[uint32]int {
	symbolToChannel := make(map[string]int, len(feeds)*4)
	for _, feed := range feeds {
		for _, symbol := range feed.Instruments {
			symbolToChannel[symbol] = feed.ChannelID
		}
	}

	routes := make(map[uint32]int, len(instruments))
	for _, instr := range instruments {
		if chID, ok := symbolToChannel[instr.Symbol]; ok {
			routes[instr.ID] = chID
		}
	}
	return routes
}

func nowNs() uint64 { return uint64(time.Now().UnixNano()) }

func breakerName(channelID int, leg string) string {
	if channelID == globalChannelID {
		return "global-" + leg
	}
	return "channel-" + strconv.Itoa(channelID) + "-" + leg
}

// sendLeg sends packet through sender, guarded by the named circuit
// breaker. A failure is logged and counted, never returned as fatal, the
// feed is lossy by design.
func (p *Publisher) sendLeg(name string, sender Sender, packet []byte) error {
	if sender == nil {
		return nil
	}
	result := p.breakers.Execute(name, func() (any, error) {
		return nil, sender.Send(packet)
	})
	if result.Err != nil {
		p.logger.Warn("transport send failed", zap.String("breaker", name), zap.Error(result.Err))
		p.metrics.RecordSendError()
		p.sendErrors.Add(1)
		return result.Err
	}
	return nil
}

// PublishIncremental routes event to its instrument's channel (or the
// global feed, if unrouted or the channel is disabled) and sends it on
// both the A and B legs of that destination.
func (p *Publisher) PublishIncremental(event types.MarketEvent) error {
	msg, err := encodeIncremental(event, event.Sequence())
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	target := p.routeFor(event.Instrument())
	seq := target.seq.Add(1)
	packet, err := codec.WrapPacket(seq, nowNs(), msg)
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	errA := p.sendLeg(breakerName(target.id, "a"), target.a, packet)
	if errA == nil {
		p.metrics.RecordSendA(len(packet))
		p.messagesSentA.Add(1)
		p.bytesSent.Add(uint64(len(packet)))
	}
	errB := p.sendLeg(breakerName(target.id, "b"), target.b, packet)
	if errB == nil {
		p.metrics.RecordSendB(len(packet))
		p.messagesSentB.Add(1)
		p.bytesSent.Add(uint64(len(packet)))
	}
	if errA != nil {
		return errA
	}
	return errB
}

// routeFor returns the channel state an instrument's incremental updates
// should publish on: its configured channel if one is found and enabled,
// the global channel otherwise.
func (p *Publisher) routeFor(instrumentID uint32) *channelState {
	chID, ok := p.instrumentChannel[instrumentID]
	if !ok {
		return p.global
	}
	ch, ok := p.channels[chID]
	if !ok || !ch.enabled.Load() {
		return p.global
	}
	return ch
}

// PublishSnapshot encodes snap as a full refresh and sends it on the
// dedicated snapshot transport, sequenced against the global channel.
func (p *Publisher) PublishSnapshot(instr *types.Instrument, snap types.Snapshot) error {
	msg, err := encodeSnapshot(instr, snap, snap.Sequence())
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	seq := p.global.seq.Add(1)
	packet, err := codec.WrapPacket(seq, nowNs(), msg)
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	if err := p.sendLeg("snapshot", p.snapshotSender, packet); err != nil {
		return err
	}
	p.metrics.RecordSnapshotSent()
	p.snapshotsSent.Add(1)
	p.bytesSent.Add(uint64(len(packet)))
	return nil
}

// PublishSecurityDefinition encodes def as template 18 and sends it on the
// dedicated security-definition transport, sequenced against the global
// channel.
func (p *Publisher) PublishSecurityDefinition(def codec.SecurityDefinition) error {
	body := codec.EncodeSecurityDefinition(def)
	msg, err := codec.BuildMessage(codec.TemplateSecurityDefinition, codec.SecurityDefinitionBlockLength, body, codec.DefaultMaxMessageSize)
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	seq := p.global.seq.Add(1)
	packet, err := codec.WrapPacket(seq, nowNs(), msg)
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return err
	}

	if err := p.sendLeg("security-definition", p.securityDefSender, packet); err != nil {
		return err
	}
	p.metrics.RecordDefinitionSent()
	p.definitionsSent.Add(1)
	p.bytesSent.Add(uint64(len(packet)))
	return nil
}

// SendHeartbeats emits a heartbeat on the global channel (A and B) and on
// every enabled per-channel feed (A and B), each with a fresh sequence
// number from its own channel.
func (p *Publisher) SendHeartbeats() {
	msg, err := codec.BuildMessage(codec.TemplateHeartbeat, codec.HeartbeatBlockLength, codec.EncodeHeartbeat(), codec.DefaultMaxMessageSize)
	if err != nil {
		// A header-only body can never exceed the size cap; this is
		// unreachable in practice, but still counted if it somehow occurs.
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return
	}

	p.sendHeartbeatOn(p.global, msg)
	for _, ch := range p.channels {
		if !ch.enabled.Load() {
			continue
		}
		p.sendHeartbeatOn(ch, msg)
	}
}

func (p *Publisher) sendHeartbeatOn(ch *channelState, msg []byte) {
	seq := ch.seq.Add(1)
	packet, err := codec.WrapPacket(seq, nowNs(), msg)
	if err != nil {
		p.metrics.RecordEncodeDrop()
		p.encodeDrops.Add(1)
		return
	}
	if err := p.sendLeg(breakerName(ch.id, "a"), ch.a, packet); err == nil {
		p.bytesSent.Add(uint64(len(packet)))
	}
	if err := p.sendLeg(breakerName(ch.id, "b"), ch.b, packet); err == nil {
		p.bytesSent.Add(uint64(len(packet)))
	}
	p.metrics.RecordHeartbeatSent()
	p.heartbeatsSent.Add(1)
}

// SetChannelEnabled toggles routing and heartbeats for a configured
// channel.
func (p *Publisher) SetChannelEnabled(channelID int, enabled bool) {
	ch, ok := p.channels[channelID]
	if !ok {
		return
	}
	ch.enabled.Store(enabled)

	count := 0
	for _, c := range p.channels {
		if c.enabled.Load() {
			count++
		}
	}
	p.metrics.SetActiveChannels(count)
}

// IsChannelEnabled reports whether channelID is a known, enabled channel.
func (p *Publisher) IsChannelEnabled(channelID int) bool {
	ch, ok := p.channels[channelID]
	return ok && ch.enabled.Load()
}

// Shutdown sends the legacy end-of-conflation marker (if conflation is
// enabled) on the global channel, then closes every transport.
func (p *Publisher) Shutdown(conflationIntervalMs uint32) {
	if conflationIntervalMs > 0 {
		seq := p.global.seq.Add(1)
		packet := codec.BuildEndOfConflationPacket(seq, globalChannelID, nowNs())
		p.sendLeg("global-a", p.global.a, packet)
		p.sendLeg("global-b", p.global.b, packet)
	}
	p.closeAll()
}

func (p *Publisher) closeAll() {
	closeIfSet := func(s Sender) {
		if s == nil {
			return
		}
		if err := s.Close(); err != nil {
			p.logger.Warn("error closing transport", zap.Error(err))
		}
	}
	closeIfSet(p.global.a)
	closeIfSet(p.global.b)
	closeIfSet(p.securityDefSender)
	closeIfSet(p.snapshotSender)
	for _, ch := range p.channels {
		closeIfSet(ch.a)
		closeIfSet(ch.b)
	}
}

// Stats returns a point-in-time copy of the publisher's counters.
func (p *Publisher) Stats() Statistics {
	return Statistics{
		MessagesSentA:   p.messagesSentA.Load(),
		MessagesSentB:   p.messagesSentB.Load(),
		SnapshotsSent:   p.snapshotsSent.Load(),
		DefinitionsSent: p.definitionsSent.Load(),
		HeartbeatsSent:  p.heartbeatsSent.Load(),
		BytesSent:       p.bytesSent.Load(),
		SendErrors:      p.sendErrors.Load(),
		EncodeDrops:     p.encodeDrops.Load(),
	}
}

// encodeIncremental builds the L2 message for a quote update or a trade,
// the two event types the incremental feed carries.
func encodeIncremental(event types.MarketEvent, rptSeq uint32) ([]byte, error) {
	switch e := event.(type) {
	case types.QuoteUpdate:
		price := e.Price
		body, err := codec.EncodeMDIncrementalRefresh(
			codec.MDIncrementalRefresh{
				SecurityID:     int32(e.InstrumentID),
				RptSeq:         rptSeq,
				TransactTimeNs: e.TsNs,
			},
			[]codec.MDIncrementalRefreshEntry{{
				MDUpdateAction: mdUpdateAction(e.Action),
				MDEntryType:    mdEntryType(e.Side),
				Price:          &price,
				Size:           int64(e.Quantity),
			}},
		)
		if err != nil {
			return nil, err
		}
		return codec.BuildMessage(codec.TemplateMDIncrementalRefresh, codec.MDIncrementalRefreshBlockLength, body, codec.DefaultMaxMessageSize)

	case types.Trade:
		price := e.Price
		body, err := codec.EncodeMDIncrementalRefreshTrades(int32(e.InstrumentID), []codec.MDIncrementalRefreshTradesEntry{{
			TransactTimeNs: e.TsNs,
			Price:          &price,
			Size:           int64(e.Quantity),
			AggressorSide:  aggressorSideCode(e.AggressorSide),
		}})
		if err != nil {
			return nil, err
		}
		return codec.BuildMessage(codec.TemplateMDIncrementalRefreshTrades, codec.MDIncrementalRefreshTradesBlockLength, body, codec.DefaultMaxMessageSize)

	default:
		return nil, apperrors.Newf(apperrors.ErrUnknownTemplate, "publisher cannot encode incremental event of type %T", event)
	}
}

// encodeSnapshot builds the L2 message for a full book refresh.
func encodeSnapshot(instr *types.Instrument, snap types.Snapshot, rptSeq uint32) ([]byte, error) {
	entries := make([]codec.MDFullRefreshEntry, 0, len(snap.BidLevels)+len(snap.AskLevels))
	for _, q := range snap.BidLevels {
		price := q.Price
		entries = append(entries, codec.MDFullRefreshEntry{MDEntryType: codec.MDEntryTypeBid, Price: &price, MDEntrySize: int64(q.Quantity)})
	}
	for _, q := range snap.AskLevels {
		price := q.Price
		entries = append(entries, codec.MDFullRefreshEntry{MDEntryType: codec.MDEntryTypeOffer, Price: &price, MDEntrySize: int64(q.Quantity)})
	}

	depth := len(snap.BidLevels)
	if len(snap.AskLevels) > depth {
		depth = len(snap.AskLevels)
	}

	body, err := codec.EncodeMDFullRefresh(codec.MDFullRefresh{
		SecurityID:     int32(instr.ID),
		RptSeq:         rptSeq,
		TransactTimeNs: snap.TsNs,
		MarketDepth:    uint8(depth),
		SecurityType:   securityTypeCode(instr.Kind),
	}, entries)
	if err != nil {
		return nil, err
	}
	return codec.BuildMessage(codec.TemplateMDFullRefresh, codec.MDFullRefreshBlockLength, body, codec.DefaultMaxMessageSize)
}

func mdEntryType(side types.Side) int8 {
	if side == types.SideBid {
		return codec.MDEntryTypeBid
	}
	return codec.MDEntryTypeOffer
}

func mdUpdateAction(action types.UpdateAction) int8 {
	switch action {
	case types.ActionAdd:
		return codec.MDUpdateNew
	case types.ActionDelete:
		return codec.MDUpdateDelete
	default:
		return codec.MDUpdateChange
	}
}

func aggressorSideCode(side *types.Side) int8 {
	if side == nil {
		return codec.AggressorNone
	}
	switch *side {
	case types.SideBid:
		return codec.AggressorBuy
	case types.SideAsk:
		return codec.AggressorSell
	default:
		return codec.AggressorNone
	}
}

// securityTypeCode assigns a stable wire code per instrument kind. These
// codes are local to this feed; they are not taken from any upstream
// registry.
func securityTypeCode(kind types.Kind) int8 {
	switch kind {
	case types.KindFXSpot:
		return 1
	case types.KindFXForward:
		return 2
	case types.KindFuture:
		return 3
	case types.KindOption:
		return 4
	case types.KindEquity:
		return 5
	case types.KindSpread:
		return 6
	default:
		return 0
	}
}
