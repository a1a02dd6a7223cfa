package server

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

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/engine"
	"github.com/mnemo-ai/mnemo/internal/storage/memstore"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(memstore.New(), cache.New(64), embedding.NewMock(1024), engine.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateMemory(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.CreateMemory, http.MethodPost, "/api/memories", map[string]string{
		"owner":   "alice",
		"content": "alice loves pizza",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
}

func TestCreateMemory_InvalidOwner(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.CreateMemory, http.MethodPost, "/api/memories", map[string]string{
		"owner":   "",
		"content": "content",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_OWNER", resp.Code)
}

func TestCreateMemory_MalformedBody(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	req := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	api.CreateMemory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieve_RoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	api := NewAPIHandlers(eng)

	rec := doJSON(t, api.CreateMemory, http.MethodPost, "/api/memories", map[string]string{
		"owner":   "alice",
		"content": "my name is Alice and I love pizza",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, api.Retrieve, http.MethodPost, "/api/retrieve", map[string]interface{}{
		"owner":     "alice",
		"query":     "what pizza and food does alice love?",
		"threshold": 0.3,
		"limit":     5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result types.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Len())
	assert.Equal(t, "my name is Alice and I love pizza", result.Entries[0].Entry.Content)
	assert.GreaterOrEqual(t, result.Entries[0].Score, 0.3)
}

func TestRetrieve_DefaultsApplied(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	// No threshold or limit in the body: configured defaults apply.
	rec := doJSON(t, api.Retrieve, http.MethodPost, "/api/retrieve", map[string]string{
		"owner": "alice",
		"query": "anything",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRetrieve_InvalidThreshold(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.Retrieve, http.MethodPost, "/api/retrieve", map[string]interface{}{
		"owner":     "alice",
		"query":     "anything",
		"threshold": 1.5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_INPUT", resp.Code)
}

func TestDeleteMemories(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.CreateMemory, http.MethodPost, "/api/memories", map[string]string{
		"owner":   "alice",
		"content": "alice loves pizza",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, api.DeleteMemories, http.MethodDelete, "/api/memories", map[string]string{
		"owner":            "alice",
		"content_contains": "pizza",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["removed"])
}

func TestDeleteMemories_EmptyPredicateRejected(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.DeleteMemories, http.MethodDelete, "/api/memories", map[string]string{
		"owner": "alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessInteraction(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.ProcessInteraction, http.MethodPost, "/api/interactions", map[string]string{
		"owner":        "alice",
		"user_message": "remember that I prefer window seats",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Created []types.MemoryEntry `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Created, 1)
	assert.Equal(t, "I prefer window seats", resp.Created[0].Content)
}

func TestProcessInteraction_NoOpReturnsEmptyList(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	rec := doJSON(t, api.ProcessInteraction, http.MethodPost, "/api/interactions", map[string]string{
		"owner":        "alice",
		"user_message": "what time is it?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":[]`)
}

func TestGetStats(t *testing.T) {
	api := NewAPIHandlers(newTestEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	api.GetStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 64, stats.Cache.Capacity)
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, hub, err := Start(ctx, cfg, newTestEngine(t))
	require.NoError(t, err)
	require.NotNil(t, hub)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	del, err := http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/api/retrieve", addr), nil)
	require.NoError(t, err)
	methodResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	defer func() { _ = methodResp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, methodResp.StatusCode)

	cancel()
	// Give the shutdown goroutine a moment to run.
	time.Sleep(100 * time.Millisecond)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "burst of 1 exhausted")
}

func TestEventHub_BroadcastReachesClients(t *testing.T) {
	hub := NewEventHub()
	go hub.Run()
	defer hub.Stop()

	client := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(client)

	hub.Publish(engine.Event{Type: engine.EventMemoryCreated, Owner: "alice"})

	select {
	case data := <-client.SendChan:
		var evt engine.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		assert.Equal(t, engine.EventMemoryCreated, evt.Type)
		assert.Equal(t, "alice", evt.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}
