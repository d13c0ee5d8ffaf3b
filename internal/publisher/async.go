package publisher

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

func init() {
	gob.Register(types.QuoteUpdate{})
	gob.Register(types.Trade{})
}

// AsyncDispatcher is the optional dedicated-sender-thread-per-channel mode
// the concurrency model allows: one in-process queue per channel (global
// plus every configured channel), each drained by its own goroutine that
// calls straight through to Publisher.PublishIncremental. Because each
// channel's queue has exactly one consumer and GoChannel preserves publish
// order per topic, the per-channel msg_seq_num ordering guarantee holds
// even though producers (the driver's tick loop) and senders run on
// different goroutines.
type AsyncDispatcher struct {
	publisher *Publisher
	pubsub    *gochannel.GoChannel
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher bound to publisher. Call Start
// before the first Dispatch and Close on shutdown.
func NewAsyncDispatcher(publisher *Publisher, logger *zap.Logger) *AsyncDispatcher {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
		Persistent:          false,
	}, newZapLoggerAdapter(logger))

	return &AsyncDispatcher{
		publisher: publisher,
		pubsub:    pubsub,
		logger:    logger,
	}
}

func topicForChannel(channelID int) string {
	return fmt.Sprintf("channel-%d", channelID)
}

// Start subscribes one consumer goroutine per known channel (the global
// channel plus every configured per-channel feed).
func (d *AsyncDispatcher) Start(ctx context.Context) error {
	channelIDs := make([]int, 0, len(d.publisher.channels)+1)
	channelIDs = append(channelIDs, globalChannelID)
	for id := range d.publisher.channels {
		channelIDs = append(channelIDs, id)
	}

	for _, id := range channelIDs {
		messages, err := d.pubsub.Subscribe(ctx, topicForChannel(id))
		if err != nil {
			return err
		}
		d.wg.Add(1)
		go d.consume(messages)
	}
	return nil
}

func (d *AsyncDispatcher) consume(messages <-chan *message.Message) {
	defer d.wg.Done()
	for msg := range messages {
		var event types.MarketEvent
		if err := gob.NewDecoder(bytes.NewReader(msg.Payload)).Decode(&event); err != nil {
			d.logger.Error("failed to decode queued market event", zap.Error(err))
			msg.Ack()
			continue
		}
		if err := d.publisher.PublishIncremental(event); err != nil {
			d.logger.Warn("async publish failed", zap.Error(err))
		}
		msg.Ack()
	}
}

// Dispatch enqueues event onto its routed channel's queue and returns once
// it is accepted by the in-process buffer. It does not wait for the send.
func (d *AsyncDispatcher) Dispatch(event types.MarketEvent) error {
	target := d.publisher.routeFor(event.Instrument())

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&event); err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), buf.Bytes())
	return d.pubsub.Publish(topicForChannel(target.id), msg)
}

// Close stops accepting new work and waits for every consumer goroutine to
// drain its queue and exit.
func (d *AsyncDispatcher) Close() error {
	err := d.pubsub.Close()
	d.wg.Wait()
	return err
}

// zapLoggerAdapter bridges *zap.Logger to watermill.LoggerAdapter, so
// GoChannel's internal logging goes through the same structured logger as
// the rest of this package.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func newZapLoggerAdapter(logger *zap.Logger) watermill.LoggerAdapter {
	return &zapLoggerAdapter{logger: logger}
}

func logFieldsToZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *zapLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(logFieldsToZap(fields), zap.Error(err))...)
}

func (a *zapLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, logFieldsToZap(fields)...)
}

func (a *zapLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, logFieldsToZap(fields)...)
}

func (a *zapLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, logFieldsToZap(fields)...)
}

func (a *zapLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapLoggerAdapter{logger: a.logger.With(logFieldsToZap(fields)...)}
}
