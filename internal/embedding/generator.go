// Package embedding converts text into fixed-length vectors for
// similarity search. Providers are external, bounded, cancellable calls:
// each request runs under the configured timeout and behind a circuit
// breaker so a dead provider fails fast instead of hanging request slots.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the embedding step failed, timed out, or was
// rejected by an open circuit breaker. Callers surface this to their own
// callers; no partial state is committed when it occurs.
var ErrUnavailable = errors.New("embedding unavailable")

// Generator converts a single text into an embedding vector.
// Implementations: Mock (tests), OllamaClient, OpenAIClient.
type Generator interface {
	// Embed returns the embedding vector for text. The vector length
	// equals Dimensions() for every successful call.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed embedding vector size.
	Dimensions() int
}
