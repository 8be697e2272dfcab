package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher holds the client and topic for publishing messages
type Publisher struct {
	client   mqtt.Client
	topic    string
	retained bool
}

// NewPublisher creates a new Publisher instance using the shared MQTT client and topic.
// Retained publishers leave their last message on the broker for late subscribers.
func NewPublisher(client mqtt.Client, topic string, retained bool) *Publisher {
	return &Publisher{
		client:   client,
		topic:    topic,
		retained: retained,
	}
}

// PublishMessage publishes message to the topic. Strings and byte slices are
// sent as they are, anything else is JSON encoded.
func (p *Publisher) PublishMessage(ctx context.Context, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", p.topic, err)
		}
		payload = b
	}

	token := p.client.Publish(p.topic, qosFor(p.topic), p.retained, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	log.Printf("Message '%s' published to topic '%s'", payload, p.topic)
	return nil
}
