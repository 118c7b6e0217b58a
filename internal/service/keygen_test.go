package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/queue"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/amrrdev/keygen/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*types.JobMessage
	err  error
}

func (f *fakePublisher) PublishJob(_ context.Context, msg *types.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type brokenStore struct{ store.ResultStore }

func (brokenStore) Get(context.Context, string) (*types.ResultDocument, error) {
	return nil, errors.New("connection reset by peer")
}

func newService(pub JobPublisher, results store.ResultStore) *Keygen {
	return NewKeygen(pub, results, metrics.NewCollector(), zerolog.Nop())
}

func TestSubmitDefaults(t *testing.T) {
	pub := &fakePublisher{}
	svc := newService(pub, store.NewMemory())

	resp, err := svc.Submit(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, resp.Status)
	assert.NotEmpty(t, resp.RequestID)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, types.JobMessage{RequestID: resp.RequestID, KeyType: "rsa", KeyBits: 2048}, *pub.msgs[0])
}

func TestSubmitMalformedBody(t *testing.T) {
	pub := &fakePublisher{}
	svc := newService(pub, store.NewMemory())

	for _, body := range [][]byte{nil, []byte("not json"), []byte(`{"key_bits":"abc"}`)} {
		_, err := svc.Submit(context.Background(), body)
		require.NoError(t, err)
	}

	require.Len(t, pub.msgs, 3)
	for _, msg := range pub.msgs {
		assert.Equal(t, "rsa", msg.KeyType)
		assert.Equal(t, 2048, msg.KeyBits)
	}
}

func TestSubmitUniqueRequestIDs(t *testing.T) {
	pub := &fakePublisher{}
	svc := newService(pub, store.NewMemory())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		resp, err := svc.Submit(context.Background(), []byte(`{"key_type":"ed25519"}`))
		require.NoError(t, err)
		assert.False(t, seen[resp.RequestID], "duplicate request id %s", resp.RequestID)
		seen[resp.RequestID] = true
	}
}

func TestSubmitEnqueueFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	results := store.NewMemory()
	svc := newService(pub, results)
	svc.newID = func() string { return "fixed-id" }

	resp, err := svc.Submit(context.Background(), []byte(`{"key_type":"rsa"}`))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
	assert.Equal(t, "failed_to_queue_request", err.Error())

	_, getErr := results.Get(context.Background(), "fixed-id")
	assert.ErrorIs(t, getErr, store.ErrNotFound)
	assert.Zero(t, results.Len())
}

func TestSubmitUnconfirmedPublish(t *testing.T) {
	for _, cause := range []error{queue.ErrPublishNacked, queue.ErrPublishReturned, context.DeadlineExceeded} {
		pub := &fakePublisher{err: fmt.Errorf("publish not confirmed: %w", cause)}
		svc := newService(pub, store.NewMemory())

		resp, err := svc.Submit(context.Background(), nil)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrQueueUnavailable, "cause %v", cause)
	}
}

func TestStatusMissingRequestID(t *testing.T) {
	svc := newService(&fakePublisher{}, store.NewMemory())

	for _, id := range []string{"", "   "} {
		res := svc.Status(context.Background(), id)
		assert.Equal(t, http.StatusBadRequest, res.Code)
		assert.Equal(t, ErrorResponse{Error: "Missing request_id"}, res.Body)
	}
}

func TestStatusPending(t *testing.T) {
	svc := newService(&fakePublisher{}, store.NewMemory())

	res := svc.Status(context.Background(), "never-submitted")
	assert.Equal(t, http.StatusAccepted, res.Code)
	assert.Equal(t, PendingResponse{Status: types.StatusPending, RequestID: "never-submitted"}, res.Body)
}

func TestStatusExpiredIsPending(t *testing.T) {
	results := store.NewMemory()
	created := time.Unix(1_700_000_000, 0)
	require.NoError(t, results.Upsert(context.Background(), &types.ResultDocument{
		ID: "r1", RequestID: "r1", Status: types.StatusComplete, TTLSeconds: 60, CreatedAt: created.Unix(),
	}))
	results.SetClock(func() time.Time { return created.Add(time.Minute) })

	res := newService(&fakePublisher{}, results).Status(context.Background(), "r1")
	assert.Equal(t, http.StatusAccepted, res.Code)
}

func TestStatusFound(t *testing.T) {
	results := store.NewMemory()
	doc := &types.ResultDocument{
		ID:         "r1",
		RequestID:  "r1",
		Status:     types.StatusComplete,
		KeyType:    "rsa",
		KeyBits:    2048,
		PublicKey:  "cHVi",
		PrivateKey: "cHJpdg==",
		TTLSeconds: 86400,
		CreatedAt:  time.Now().Unix(),
	}
	require.NoError(t, results.Upsert(context.Background(), doc))

	res := newService(&fakePublisher{}, results).Status(context.Background(), " r1 ")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, doc, res.Body)
}

func TestStatusStoreFault(t *testing.T) {
	svc := newService(&fakePublisher{}, brokenStore{})

	res := svc.Status(context.Background(), "r1")
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, ErrorResponse{Error: "Internal server error"}, res.Body)
}
