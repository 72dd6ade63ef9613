package queue

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DispatchJob asks the worker to run dispatch for one campaign.
type DispatchJob struct {
	CampaignID int    `json:"campaign_id"`
	TenantID   string `json:"tenant_id"`
}

// Publisher enqueues JSON payloads onto a named queue.
type Publisher interface {
	Publish(queue string, payload any) error
}

// Client wraps one AMQP connection and channel.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

func Dial(amqpURL string, log *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open broker channel: %w", err)
	}
	return &Client{conn: conn, ch: ch, log: log}, nil
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}

// Declare makes the queue exist, durable.
func (c *Client) Declare(queue string) error {
	_, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

func (c *Client) Publish(queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume processes deliveries with manual acks. A handler error
// republishes the payload with an incremented x-retry-count header
// until maxRedelivery, after which the delivery is dropped.
func (c *Client) Consume(queue string, maxRedelivery int, handler func(body []byte) error) error {
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for d := range msgs {
		if err := handler(d.Body); err != nil {
			retryCount := headerInt(d.Headers, "x-retry-count")
			if retryCount < maxRedelivery {
				pub := amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         d.Body,
					Headers:      amqp.Table{"x-retry-count": int32(retryCount + 1)},
				}
				if pubErr := c.ch.Publish("", queue, false, false, pub); pubErr != nil {
					c.log.Error("failed to requeue delivery", zap.Error(pubErr))
					d.Nack(false, true)
					continue
				}
			} else {
				c.log.Warn("dropping delivery after max redeliveries",
					zap.String("queue", queue),
					zap.Int("retry_count", retryCount),
					zap.Error(err))
			}
		}
		d.Ack(false)
	}
	return nil
}

func headerInt(headers amqp.Table, key string) int {
	switch v := headers[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
