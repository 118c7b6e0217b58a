package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultConfirmTimeout = 5 * time.Second

var (
	ErrPublishNacked   = errors.New("broker rejected message")
	ErrPublishReturned = errors.New("broker returned unroutable message")
)

// RabbitMQ owns one connection and one channel in confirm mode. amqp channels
// are not safe for concurrent publishing, so Publish serializes on mu, which
// also keeps returned messages matched to the publish that caused them.
type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel

	ConfirmTimeout time.Duration

	returns chan amqp.Return
	mu      sync.Mutex
}

// confirmation is satisfied by *amqp.DeferredConfirmation.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQ{
		Conn:           conn,
		Channel:        channel,
		ConfirmTimeout: DefaultConfirmTimeout,
		returns:        channel.NotifyReturn(make(chan amqp.Return, 1)),
	}, nil
}

func (r *RabbitMQ) DeclareQueue(name string, durable bool, args amqp.Table) error {
	_, err := r.Channel.QueueDeclare(name, durable, false, false, false, args)
	if err != nil {
		return fmt.Errorf("failed to declare a %s queue: %w", name, err)
	}
	return nil
}

// DeclareWorkQueue declares the dead letter queue first, then the work queue
// routing rejected messages to it through the default exchange.
func (r *RabbitMQ) DeclareWorkQueue(queueName, dlqName string) error {
	if err := r.DeclareQueue(dlqName, true, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	return r.DeclareQueue(queueName, true, args)
}

// Publish returns only once the broker has confirmed the message. A nack, an
// unroutable return or no confirm within ConfirmTimeout is an error.
func (r *RabbitMQ) Publish(ctx context.Context, queueName string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	msg.DeliveryMode = amqp.Persistent

	if r.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ConfirmTimeout)
		defer cancel()
	}

	r.drainReturns()
	confirm, err := r.Channel.PublishWithDeferredConfirmWithContext(ctx, "", queueName, true, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message in queue: %w", err)
	}
	if confirm == nil {
		return nil
	}
	return r.awaitConfirm(ctx, confirm, msg.MessageId)
}

// awaitConfirm relies on the broker sending basic.return before the ack of
// the same message, so a return is already buffered once the ack arrives.
func (r *RabbitMQ) awaitConfirm(ctx context.Context, confirm confirmation, messageID string) error {
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish not confirmed: %w", err)
	}
	if ret, ok := r.takeReturn(messageID); ok {
		return fmt.Errorf("%w: %d %s", ErrPublishReturned, ret.ReplyCode, ret.ReplyText)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

func (r *RabbitMQ) takeReturn(messageID string) (amqp.Return, bool) {
	for {
		select {
		case ret, ok := <-r.returns:
			if !ok {
				return amqp.Return{}, false
			}
			if messageID == "" || ret.MessageId == messageID {
				return ret, true
			}
		default:
			return amqp.Return{}, false
		}
	}
}

func (r *RabbitMQ) drainReturns() {
	for {
		select {
		case _, ok := <-r.returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (r *RabbitMQ) Consume(queueName, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := r.Channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	delivery, err := r.Channel.Consume(queueName, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s queue: %w", queueName, err)
	}

	return delivery, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.Channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := r.Conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
