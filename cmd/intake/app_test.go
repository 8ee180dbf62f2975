package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/auth"
	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
)

const testSecret = "s3cret"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			MaxBodyBytes:    constants.DefaultMaxBodyBytes,
			ShutdownTimeout: 2 * time.Second,
		},
		Auth: config.AuthConfig{
			MaxSkew:     constants.DefaultMaxSkew,
			NonceTTL:    constants.DefaultNonceTTL,
			NonceStore:  constants.StoreMemory,
			DefaultPeer: "crm",
			Peers:       map[string]config.PeerConfig{"crm": {Secret: testSecret}},
		},
		Idempotency: config.IdempotencyConfig{
			Store:        constants.StoreMemory,
			TTL:          time.Hour,
			OnStoreError: constants.FallbackAllow,
		},
		Ingest: config.IngestConfig{
			Queue:          constants.QueueMemory,
			MaxQueueSize:   100,
			BatchSize:      10,
			BatchInterval:  10 * time.Millisecond,
			PersistTimeout: time.Second,
		},
		Persistence: config.PersistenceConfig{Driver: constants.StoreMemory},
		SLO:         config.SLOConfig{SampleWindow: 100, ExcludedPaths: []string{"/health", "/ready", "/metrics"}},
		Admission:   config.AdmissionConfig{Expression: `event_type != "blocked"`, OnError: constants.FallbackAllow},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app := NewApp(testConfig(), logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	require.NoError(t, app.queue.Start(context.Background()))
	t.Cleanup(func() { app.Shutdown(context.Background()) })
	return app
}

func signedRequest(t *testing.T, nonce string, event map[string]interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)

	ms := time.Now().UnixMilli()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	req.Header.Set("Authorization", auth.FormatAuthorization(auth.Sign(testSecret, ms, nonce, body), ms, nonce))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func event(id, typ string) map[string]interface{} {
	return map[string]interface{}{
		"eventId":    id,
		"eventType":  typ,
		"subjectRef": "customer-42",
		"occurredAt": time.Now().UTC().Format(time.RFC3339),
	}
}

func serve(app *App, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	return w
}

func TestApp_SubmitPersistsOnce(t *testing.T) {
	app := newTestApp(t)

	w := serve(app, signedRequest(t, "n1", event("evt-1", "order.created")))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = serve(app, signedRequest(t, "n2", event("evt-1", "order.created")))
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["reason"])

	require.Eventually(t, func() bool {
		n, err := app.store.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApp_AuthAndAdmission(t *testing.T) {
	app := newTestApp(t)

	req := signedRequest(t, "n1", event("evt-1", "order.created"))
	assert.Equal(t, http.StatusAccepted, serve(app, req).Code)

	replay := signedRequest(t, "n1", event("evt-1", "order.created"))
	assert.Equal(t, http.StatusUnauthorized, serve(app, replay).Code)

	unsigned := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, serve(app, unsigned).Code)

	blocked := signedRequest(t, "n2", event("evt-2", "blocked"))
	assert.Equal(t, http.StatusUnprocessableEntity, serve(app, blocked).Code)
}

func TestApp_OperationalEndpoints(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < 3; i++ {
		req := signedRequest(t, fmt.Sprintf("n%d", i), event(fmt.Sprintf("evt-%d", i), "order.created"))
		require.Equal(t, http.StatusAccepted, serve(app, req).Code)
	}

	w := serve(app, httptest.NewRequest(http.MethodGet, "/v1/metrics/queue", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, constants.QueueMemory, stats["substrate"])
	assert.EqualValues(t, 3, stats["enqueued"])

	w = serve(app, httptest.NewRequest(http.MethodGet, "/v1/metrics/endpoints", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "POST /v1/events")

	w = serve(app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nonce_store")

	w = serve(app, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not serving yet")
}

func TestApp_ServesAPIDocs(t *testing.T) {
	app := newTestApp(t)

	w := serve(app, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		BasePath string                 `json:"basePath"`
		Paths    map[string]interface{} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "/v1", doc.BasePath)
	for _, path := range []string{"/events", "/metrics/queue", "/peers/register", "/peers/heartbeat", "/metrics/heatmap"} {
		assert.Contains(t, doc.Paths, path)
	}
}

func TestApp_ShutdownRejectsNewEvents(t *testing.T) {
	app := newTestApp(t)

	require.Equal(t, http.StatusAccepted, serve(app, signedRequest(t, "n1", event("evt-1", "order.created"))).Code)
	require.NoError(t, app.Shutdown(context.Background()))

	n, err := app.store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "accepted events are drained on shutdown")

	w := serve(app, signedRequest(t, "n2", event("evt-2", "order.created")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestApp_RejectsUnknownStores(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.NonceStore = constants.StoreRedis
	app := NewApp(cfg, logger.NopLogger())
	err := app.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a redis connection")
	app.Shutdown(context.Background())
}
