package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amrrdev/keygen/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher abstracts the broker behind the producer so tests can run
// without RabbitMQ.
type Publisher interface {
	Publish(ctx context.Context, queueName string, msg amqp.Publishing) error
}

type Producer struct {
	client    Publisher
	queueName string
	logger    zerolog.Logger
}

// NewProducer declares the work queue and its DLQ before returning.
func NewProducer(client *RabbitMQ, queueName, dlqName string, logger zerolog.Logger) (*Producer, error) {
	if err := client.DeclareWorkQueue(queueName, dlqName); err != nil {
		return nil, fmt.Errorf("failed to declare queues: %w", err)
	}

	logger.Info().Str("queue", queueName).Str("dlq", dlqName).Msg("queues declared")
	return NewProducerWithPublisher(client, queueName, logger), nil
}

func NewProducerWithPublisher(client Publisher, queueName string, logger zerolog.Logger) *Producer {
	return &Producer{
		client:    client,
		queueName: queueName,
		logger:    logger,
	}
}

// PublishJob sends msg with its request id as correlation id, so a worker can
// still attribute a delivery whose body cannot be decoded.
func (p *Producer) PublishJob(ctx context.Context, msg *types.JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.Publish(ctx, p.queueName, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.RequestID,
		MessageId:     msg.RequestID,
		Timestamp:     time.Now(),
		Body:          data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	p.logger.Debug().Str("request_id", msg.RequestID).Str("key_type", msg.KeyType).Msg("job published")
	return nil
}
