package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Consumer consumes engine events and forwards them to a sink. It owns
// the subscriber: Shutdown closes it.
type Consumer struct {
	subscriber message.Subscriber
	sink       Sink
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a new event consumer.
func NewConsumer(subscriber message.Subscriber, sink Sink, logger *zap.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		sink:       sink,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins consuming from both engine topics.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	rejectedMsgs, err := c.subscriber.Subscribe(ctx, TopicRequestRejected)
	if err != nil {
		return err
	}

	fallbackMsgs, err := c.subscriber.Subscribe(ctx, TopicStoreFallback)
	if err != nil {
		return err
	}

	go c.consumeLoop(ctx, rejectedMsgs, fallbackMsgs)

	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, rejectedMsgs, fallbackMsgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rejectedMsgs:
			if !ok {
				return
			}

			c.handleRejected(ctx, msg)
		case msg, ok := <-fallbackMsgs:
			if !ok {
				return
			}

			c.handleFallback(ctx, msg)
		}
	}
}

func (c *Consumer) handleRejected(ctx context.Context, msg *message.Message) {
	var event RequestRejectedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal rejection event", zap.Error(err))
		msg.Nack()

		return
	}

	if err := c.sink.HandleRequestRejected(ctx, &event); err != nil {
		c.logger.Error("failed to handle rejection event",
			zap.String("key", event.Key),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (c *Consumer) handleFallback(ctx context.Context, msg *message.Message) {
	var event StoreFallbackEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("failed to unmarshal fallback event", zap.Error(err))
		msg.Nack()

		return
	}

	if err := c.sink.HandleStoreFallback(ctx, &event); err != nil {
		c.logger.Error("failed to handle fallback event",
			zap.String("backend", event.Backend),
			zap.Error(err),
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

// Shutdown stops the consumer, waits for in-flight messages to complete,
// and closes the subscriber.
func (c *Consumer) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}

	<-c.done

	return c.subscriber.Close()
}
