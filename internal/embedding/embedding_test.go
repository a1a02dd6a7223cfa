package embedding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMock_Deterministic(t *testing.T) {
	m := NewMock(128)
	ctx := context.Background()

	a, err := m.Embed(ctx, "I love pizza")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "I love pizza")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, m.Dimensions())
}

func TestMock_SharedTokensCorrelate(t *testing.T) {
	m := NewMock(256)
	ctx := context.Background()

	pizza, err := m.Embed(ctx, "alice loves pizza and pasta")
	require.NoError(t, err)
	similar, err := m.Embed(ctx, "pizza pasta loves alice")
	require.NoError(t, err)
	unrelated, err := m.Embed(ctx, "quarterly revenue forecast spreadsheet")
	require.NoError(t, err)

	assert.Greater(t, cosine(pizza, similar), 0.5,
		"texts sharing most tokens should score high")
	assert.Greater(t, cosine(pizza, similar), cosine(pizza, unrelated),
		"token overlap must rank above unrelated text")
}

func TestMock_UnitLength(t *testing.T) {
	m := NewMock(64)
	vec, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(vec, vec), 1e-6)
}

func TestMock_EmptyText(t *testing.T) {
	m := NewMock(64)
	_, err := m.Embed(context.Background(), "   ...   ")
	assert.Error(t, err)
}

func TestMock_CancelledContext(t *testing.T) {
	m := NewMock(64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakerWithConfig(BreakerConfig{MaxFailures: 2})
	boom := errors.New("boom")

	fail := func() ([]float32, error) { return nil, boom }

	_, err := b.Execute(fail)
	assert.ErrorIs(t, err, boom)
	_, err = b.Execute(fail)
	assert.ErrorIs(t, err, boom)

	// Circuit is now open; the function must not run.
	called := false
	_, err = b.Execute(func() ([]float32, error) {
		called = true
		return []float32{1}, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	b := NewBreaker()
	vec, err := b.Execute(func() ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Dimensions: 3})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestOllamaClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 2})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOpenAIClient_EmptyResponseIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}
