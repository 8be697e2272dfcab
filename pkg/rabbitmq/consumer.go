package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Consumer holds the client and topic for subscribing
type Consumer struct {
	client  mqtt.Client
	handler func(topic string, message mqtt.Message) error
	topic   string
}

// NewConsumer creates a new Consumer instance using the shared MQTT client and topic
func NewConsumer(client mqtt.Client, topic string, handler func(topic string, message mqtt.Message) error) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: handler,
	}
}

// sensor state and commands must not be lost, the rest is best effort
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if t == "sensor" || strings.HasPrefix(t, "sensor/") {
		return 1
	}
	return 0
}

// Subscribe registers the handler with the broker and waits for the ack.
func (c *Consumer) Subscribe(ctx context.Context) error {
	token := c.client.Subscribe(
		c.topic,
		qosFor(c.topic),
		func(_ mqtt.Client, message mqtt.Message) {
			if c.handler == nil {
				log.Printf("No handler set for topic %s", c.topic)
				return
			}
			if err := c.handler(c.topic, message); err != nil {
				log.Printf("Error handling message on %s: %v", c.topic, err)
			}
		},
	)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	log.Printf("Successfully subscribed to topic %s", c.topic)
	return nil
}

// Unsubscribe drops the subscription without waiting for the broker, so it is
// safe to call from inside a message handler.
func (c *Consumer) Unsubscribe() {
	token := c.client.Unsubscribe(c.topic)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("Unsubscribe from %s timed out", c.topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("Unsubscribe from %s: %v", c.topic, err)
		}
	}()
}
