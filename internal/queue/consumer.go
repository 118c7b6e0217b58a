package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const RetryCountHeader = "x-retry-count"

type Consumer struct {
	client    *RabbitMQ
	queueName string
	dlqName   string
	tag       string
	prefetch  int
}

func NewConsumer(client *RabbitMQ, queueName, dlqName string, prefetch int) (*Consumer, error) {
	if err := client.DeclareWorkQueue(queueName, dlqName); err != nil {
		return nil, fmt.Errorf("failed to declare queues: %w", err)
	}

	return &Consumer{
		client:    client,
		queueName: queueName,
		dlqName:   dlqName,
		tag:       "keygen-worker",
		prefetch:  prefetch,
	}, nil
}

func (c *Consumer) Consume() (<-chan amqp.Delivery, error) {
	return c.client.Consume(c.queueName, c.tag, c.prefetch)
}

// Republish puts a copy of msg back on the work queue with the retry header
// set to retryCount. Correlation and message ids are preserved.
func (c *Consumer) Republish(ctx context.Context, msg amqp.Delivery, retryCount int) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = int32(retryCount)

	return c.client.Publish(ctx, c.queueName, amqp.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Headers:       headers,
		Body:          msg.Body,
	})
}

func (c *Consumer) Close() error {
	return c.client.Close()
}

// RetryCount reads the retry header, tolerating the integer widths different
// clients use when setting it.
func RetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	switch v := msg.Headers[RetryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}
