package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/auth"
	"intake/internal/config"
	"intake/internal/logger"
	"intake/internal/storage"
	"intake/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const validBody = `{"eventId":"A","eventType":"delivery","subjectRef":"r1","occurredAt":"2026-03-01T12:00:00Z","details":{"smtp":"250"}}`

type admitFunc func(models.InboundEvent) bool

func (f admitFunc) Admit(ctx context.Context, e models.InboundEvent) (bool, error) {
	return f(e), nil
}

// fakeAuth stands in for the signature middleware.
func fakeAuth(c *gin.Context) {
	body, _ := c.GetRawData()
	c.Set(auth.ContextKeyRawBody, body)
	c.Set(auth.ContextKeyPeerID, "mailer")
	c.Next()
}

func newRouter(t *testing.T, q EventIngestionQueue, admitter Admitter) *gin.Engine {
	t.Helper()
	r := gin.New()
	h := NewHandler(q, admitter, logger.NopLogger())
	h.RegisterRoutes(r.Group("/v1", fakeAuth), r.Group("/v1"))
	return r
}

func post(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_AcceptsAndFlagsDuplicates(t *testing.T) {
	store := storage.NewMemoryStore()
	q := newMemoryQueue(t, store, nil, config.IngestConfig{})
	r := newRouter(t, q, nil)

	w := post(r, validBody, map[string]string{CorrelationIDHeader: "corr-1"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["accepted"])
	assert.Nil(t, body["reason"])

	w = post(r, validBody, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ReasonDuplicate, body["reason"])

	require.NoError(t, q.Close(context.Background()))
	stored, ok := store.Get("A", "delivery")
	require.True(t, ok)
	assert.Equal(t, "mailer", stored.PeerID)
	assert.Equal(t, "corr-1", stored.CorrelationID)
	assert.False(t, stored.ReceivedAt.IsZero())
}

func TestHandler_BackpressureReturns429(t *testing.T) {
	q := newMemoryQueue(t, storage.NewMemoryStore(), nil, config.IngestConfig{MaxQueueSize: 1})
	r := newRouter(t, q, nil)

	require.Equal(t, http.StatusAccepted, post(r, validBody, nil).Code)

	w := post(r, strings.Replace(validBody, `"A"`, `"B"`, 1), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"reason":"capacity"`)
	assert.Contains(t, w.Body.String(), "QUEUE_CAPACITY")
}

func TestHandler_RejectsInvalidEvents(t *testing.T) {
	q := newMemoryQueue(t, storage.NewMemoryStore(), nil, config.IngestConfig{})
	r := newRouter(t, q, nil)

	w := post(r, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, `{"eventId":"A","eventType":"delivery","occurredAt":"2026-03-01T12:00:00Z"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "subjectRef")

	depth, _ := q.Depth(context.Background())
	assert.Zero(t, depth)
}

func TestHandler_AdmissionRejection(t *testing.T) {
	q := newMemoryQueue(t, storage.NewMemoryStore(), nil, config.IngestConfig{})
	r := newRouter(t, q, admitFunc(func(e models.InboundEvent) bool { return e.EventType != "delivery" }))

	w := post(r, validBody, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "ADMISSION_REJECTED")

	// Rejected events never reach the idempotency index.
	r = newRouter(t, q, nil)
	w = post(r, validBody, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, w.Body.String(), ReasonDuplicate)
}

func TestHandler_ShuttingDown(t *testing.T) {
	q := newMemoryQueue(t, storage.NewMemoryStore(), nil, config.IngestConfig{})
	require.NoError(t, q.Close(context.Background()))
	r := newRouter(t, q, nil)

	w := post(r, validBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "SHUTTING_DOWN")
}

func TestHandler_QueueStats(t *testing.T) {
	q := newMemoryQueue(t, storage.NewMemoryStore(), nil, config.IngestConfig{})
	r := newRouter(t, q, nil)
	require.Equal(t, http.StatusAccepted, post(r, validBody, nil).Code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/metrics/queue", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap StatsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "memory", snap.Substrate)
	assert.Equal(t, int64(1), snap.Enqueued)
	assert.Equal(t, 1, snap.QueueDepth)
}
