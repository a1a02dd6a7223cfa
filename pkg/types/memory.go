// Package types defines the shared value types for the mnemo memory core.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MemoryType classifies the provenance of a memory entry.
type MemoryType string

const (
	// MemoryTypeExplicit marks entries created by an explicit "remember" command.
	MemoryTypeExplicit MemoryType = "explicit"

	// MemoryTypeInferred marks entries learned from an ordinary conversational turn.
	MemoryTypeInferred MemoryType = "inferred"

	// MemoryTypeDocument marks entries derived from an ingested document.
	MemoryTypeDocument MemoryType = "document"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeExplicit, MemoryTypeInferred, MemoryTypeDocument:
		return true
	}
	return false
}

// ErrInvalidOwner indicates a missing or malformed owner identity.
// Owner validation runs before any cache or store access.
var ErrInvalidOwner = errors.New("invalid owner")

// maxOwnerLength bounds owner identities; anything longer is almost
// certainly a payload leaking into the identity field.
const maxOwnerLength = 256

// ValidateOwner checks that owner is a usable identity: non-empty,
// bounded in length, and free of control characters and whitespace.
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is empty", ErrInvalidOwner)
	}
	if len(owner) > maxOwnerLength {
		return fmt.Errorf("%w: owner exceeds %d bytes", ErrInvalidOwner, maxOwnerLength)
	}
	for _, r := range owner {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: owner contains whitespace or control characters", ErrInvalidOwner)
		}
	}
	return nil
}

// MemoryEntry is a single durable fact or conversational excerpt.
// Entries are immutable once created; an update creates a new entry
// that records the old one in SupersedesID.
type MemoryEntry struct {
	ID           string     `json:"id"`                      // Unique identifier (UUID)
	Owner        string     `json:"owner"`                   // User identity scoping all operations
	Content      string     `json:"content"`                 // Text payload
	Embedding    []float32  `json:"embedding,omitempty"`     // Vector representation of Content
	MemoryType   MemoryType `json:"memory_type"`             // Provenance tag
	CreatedAt    time.Time  `json:"created_at"`              // Creation timestamp
	ContentHash  string     `json:"content_hash,omitempty"`  // SHA-256 of Content for deduplication
	SupersedesID string     `json:"supersedes_id,omitempty"` // ID of the entry this one supersedes
}

// Validate checks that the entry has all required fields set.
func (m *MemoryEntry) Validate() error {
	if m.ID == "" {
		return errors.New("memory entry: id is required")
	}
	if err := ValidateOwner(m.Owner); err != nil {
		return fmt.Errorf("memory entry: %w", err)
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("memory entry: content is empty")
	}
	if !m.MemoryType.Valid() {
		return fmt.Errorf("memory entry: unknown memory type %q", m.MemoryType)
	}
	if len(m.Embedding) == 0 {
		return errors.New("memory entry: embedding is required")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("memory entry: created_at is required")
	}
	return nil
}

// HashContent returns the hex-encoded SHA-256 hash of content.
// Used to detect duplicate explicit remembers for the same owner.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ScoredEntry pairs a memory entry with its relevance score for one query.
type ScoredEntry struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"` // Relevance in [0,1], higher is more relevant
}

// QueryResult is the ordered outcome of one retrieval call. Entries are
// sorted by descending score; ties break on CreatedAt descending. It is
// ephemeral: never persisted except as a response-cache value.
type QueryResult struct {
	Entries []ScoredEntry `json:"entries"`
}

// Len returns the number of entries in the result.
func (r QueryResult) Len() int { return len(r.Entries) }
