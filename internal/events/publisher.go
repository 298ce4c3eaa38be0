package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher publishes engine events. A nil *Publisher is valid and drops
// everything, so callers on the hot path never branch on configuration.
type Publisher struct {
	publisher message.Publisher
}

// NewPublisher creates a new event publisher.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// PublishRequestRejected publishes a rejection event.
func (p *Publisher) PublishRequestRejected(event *RequestRejectedEvent) error {
	if p == nil {
		return nil
	}

	return p.publish(TopicRequestRejected, event)
}

// PublishStoreFallback publishes a store degradation event.
func (p *Publisher) PublishStoreFallback(event *StoreFallbackEvent) error {
	if p == nil {
		return nil
	}

	return p.publish(TopicStoreFallback, event)
}

func (p *Publisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	return p.publisher.Publish(topic, msg)
}

// Shutdown closes the underlying publisher.
func (p *Publisher) Shutdown() error {
	if p == nil {
		return nil
	}

	return p.publisher.Close()
}
