package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive_Deterministic(t *testing.T) {
	req := Request{Query: "what do you know about my food preference?", Threshold: 0.3, Limit: 5}

	k1 := Derive("alice", req)
	k2 := Derive("alice", req)

	assert.Equal(t, k1, k2, "same inputs must produce the same key on every call")
	assert.Equal(t, "alice", k1.Owner)
	assert.Len(t, k1.Digest, 32, "16-byte digest, hex encoded")
}

func TestDerive_NormalizesVolatileFormatting(t *testing.T) {
	base := Derive("alice", Request{Query: "favorite food", Threshold: 0.3, Limit: 5})

	variants := []string{
		"Favorite Food",
		"  favorite   food  ",
		"favorite\tfood",
		"FAVORITE FOOD",
	}
	for _, q := range variants {
		assert.Equal(t, base, Derive("alice", Request{Query: q, Threshold: 0.3, Limit: 5}),
			"query %q should normalize to the same key", q)
	}
}

func TestDerive_DistinguishesSemanticFields(t *testing.T) {
	base := Derive("alice", Request{Query: "favorite food", Threshold: 0.3, Limit: 5})

	assert.NotEqual(t, base, Derive("alice", Request{Query: "favorite drink", Threshold: 0.3, Limit: 5}),
		"different query text must yield a different key")
	assert.NotEqual(t, base, Derive("alice", Request{Query: "favorite food", Threshold: 0.5, Limit: 5}),
		"threshold affects the result set and must be part of the key")
	assert.NotEqual(t, base, Derive("alice", Request{Query: "favorite food", Threshold: 0.3, Limit: 10}),
		"limit affects the result set and must be part of the key")
	assert.NotEqual(t, base, Derive("bob", Request{Query: "favorite food", Threshold: 0.3, Limit: 5}),
		"keys are owner-scoped")
}

func TestDerive_ThresholdFullPrecision(t *testing.T) {
	base := Derive("alice", Request{Query: "favorite food", Threshold: 0.3, Limit: 5})

	// Thresholds that differ by less than any fixed decimal rounding
	// still produce different result sets, so they must not share a key.
	nearby := Derive("alice", Request{Query: "favorite food", Threshold: 0.3 + 1e-9, Limit: 5})
	assert.NotEqual(t, base, nearby,
		"distinct float64 thresholds must yield distinct keys")

	assert.Equal(t, base, Derive("alice", Request{Query: "favorite food", Threshold: 0.3, Limit: 5}),
		"the exact same threshold still round-trips to the same key")
}

func TestKey_String(t *testing.T) {
	k := Derive("alice", Request{Query: "x", Threshold: 0, Limit: 1})
	assert.Equal(t, "alice/"+k.Digest, k.String())
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeQuery(" A  b\t C "))
	assert.Equal(t, "", NormalizeQuery("   "))
}
