package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/amrrdev/keygen/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	queue string
	msgs  []amqp.Publishing
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, queueName string, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.queue = queueName
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestProducerPublishJob(t *testing.T) {
	pub := &recordingPublisher{}
	producer := NewProducerWithPublisher(pub, "keygen_queue", zerolog.Nop())

	err := producer.PublishJob(context.Background(), &types.JobMessage{
		RequestID: "req-1",
		KeyType:   "rsa",
		KeyBits:   2048,
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "keygen_queue", pub.queue)
	assert.Equal(t, "req-1", msg.CorrelationId)
	assert.Equal(t, "req-1", msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)

	var body types.JobMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, types.JobMessage{RequestID: "req-1", KeyType: "rsa", KeyBits: 2048}, body)
}

func TestProducerPublishJobError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	producer := NewProducerWithPublisher(pub, "keygen_queue", zerolog.Nop())

	err := producer.PublishJob(context.Background(), &types.JobMessage{RequestID: "req-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{name: "no headers", headers: nil, want: 0},
		{name: "missing header", headers: amqp.Table{"other": "x"}, want: 0},
		{name: "int32", headers: amqp.Table{RetryCountHeader: int32(2)}, want: 2},
		{name: "int64", headers: amqp.Table{RetryCountHeader: int64(3)}, want: 3},
		{name: "wrong type", headers: amqp.Table{RetryCountHeader: "2"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryCount(amqp.Delivery{Headers: tt.headers}))
		})
	}
}

type fakeConfirmation struct {
	acked bool
	err   error
	hang  bool
}

func (f fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if f.hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.acked, f.err
}

func TestAwaitConfirm(t *testing.T) {
	tests := []struct {
		name     string
		confirm  fakeConfirmation
		returned *amqp.Return
		wantErr  error
	}{
		{name: "acked", confirm: fakeConfirmation{acked: true}},
		{name: "nacked", confirm: fakeConfirmation{acked: false}, wantErr: ErrPublishNacked},
		{
			name:     "returned unroutable",
			confirm:  fakeConfirmation{acked: true},
			returned: &amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", MessageId: "req-1"},
			wantErr:  ErrPublishReturned,
		},
		{
			name:     "return for another message",
			confirm:  fakeConfirmation{acked: true},
			returned: &amqp.Return{ReplyCode: 312, MessageId: "req-0"},
		},
		{name: "no confirm before deadline", confirm: fakeConfirmation{hang: true}, wantErr: context.DeadlineExceeded},
		{name: "channel closed", confirm: fakeConfirmation{err: amqp.ErrClosed}, wantErr: amqp.ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RabbitMQ{returns: make(chan amqp.Return, 1)}
			if tt.returned != nil {
				r.returns <- *tt.returned
			}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := r.awaitConfirm(ctx, tt.confirm, "req-1")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTakeReturnClosedChannel(t *testing.T) {
	r := &RabbitMQ{returns: make(chan amqp.Return)}
	close(r.returns)

	_, ok := r.takeReturn("req-1")
	assert.False(t, ok)
	r.drainReturns()
}
