package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amrrdev/keygen/internal/handler"
	"github.com/amrrdev/keygen/internal/jwt"
	"github.com/amrrdev/keygen/internal/keygen"
	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/middleware"
	"github.com/amrrdev/keygen/internal/server"
	"github.com/amrrdev/keygen/internal/service"
	"github.com/amrrdev/keygen/internal/store"
	"github.com/amrrdev/keygen/internal/types"
	"github.com/amrrdev/keygen/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryQueue records published jobs as encoded bodies, the way the broker
// would hand them to a worker.
type memoryQueue struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (q *memoryQueue) PublishJob(_ context.Context, msg *types.JobMessage) error {
	if q.err != nil {
		return q.err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, data)
	return nil
}

type testEnv struct {
	router  *gin.Engine
	queue   *memoryQueue
	results *store.Memory
}

func newTestEnv(t *testing.T, auth *middleware.AuthMiddleware) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	q := &memoryQueue{}
	results := store.NewMemory()
	collector := metrics.NewCollector()
	svc := service.NewKeygen(q, results, collector, zerolog.Nop())
	router := server.NewServer(handler.NewKeygenHandler(svc), auth, collector, zerolog.Nop())

	return &testEnv{router: router, queue: q, results: results}
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitAccepted(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/keygen", `{"key_type":"rsa","key_bits":2048}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["request_id"])
	assert.Len(t, env.queue.bodies, 1)
}

func TestSubmitWithoutBody(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/keygen", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var msg types.JobMessage
	require.NoError(t, json.Unmarshal(env.queue.bodies[0], &msg))
	assert.Equal(t, "rsa", msg.KeyType)
	assert.Equal(t, 2048, msg.KeyBits)
}

func TestSubmitQueueFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.queue.err = errors.New("dial tcp: connection refused")

	rec := env.do(http.MethodPost, "/api/keygen", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed_to_queue_request"}`, rec.Body.String())
	assert.Zero(t, env.results.Len())
}

func TestResultMissingRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/result", "/api/result/", "/api/result/%20"} {
		rec := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.JSONEq(t, `{"error":"Missing request_id"}`, rec.Body.String(), path)
	}
}

func TestResultPending(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/result/does-not-exist", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"pending","request_id":"does-not-exist"}`, rec.Body.String())
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/keygen", `{"key_type":"rsa","key_bits":2048}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	requestID := decode(t, rec)["request_id"].(string)

	rec = env.do(http.MethodGet, "/api/result/"+requestID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	processor := worker.NewProcessor(env.results, keygen.NewGenerator(zerolog.Nop()), metrics.NewCollector(), zerolog.Nop(), 24*time.Hour)
	require.Len(t, env.queue.bodies, 1)
	_, err := processor.Process(context.Background(), env.queue.bodies[0], requestID)
	require.NoError(t, err)

	rec = env.do(http.MethodGet, "/api/result/"+requestID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc types.ResultDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, requestID, doc.ID)
	assert.Equal(t, requestID, doc.RequestID)
	assert.Equal(t, types.StatusComplete, doc.Status)
	assert.Equal(t, "rsa", doc.KeyType)
	assert.NotEmpty(t, doc.PublicKey)
	assert.NotEmpty(t, doc.PrivateKey)

	stored, err := env.results.Get(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, *stored, doc)
}

func TestEndToEndUnknownKeyType(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/keygen", `{"key_type":"dsa"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	requestID := decode(t, rec)["request_id"].(string)

	processor := worker.NewProcessor(env.results, keygen.NewGenerator(zerolog.Nop()), metrics.NewCollector(), zerolog.Nop(), 0)
	_, err := processor.Process(context.Background(), env.queue.bodies[0], requestID)
	require.NoError(t, err)

	rec = env.do(http.MethodGet, "/api/result/"+requestID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "complete", body["status"])
	assert.Equal(t, "rsa", body["key_type"])
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	jwtService := jwt.NewService("secret", time.Hour)
	env := newTestEnv(t, middleware.NewAuthMiddleware(jwtService))

	rec := env.do(http.MethodPost, "/api/keygen", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwtService.GenerateAccessToken("tester")
	require.NoError(t, err)
	rec = env.do(http.MethodPost, "/api/keygen", `{}`, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(http.MethodPost, "/api/keygen", `{}`)
	rec = env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "keygen_jobs_submitted_total 1")
}
