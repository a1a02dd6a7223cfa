// Package cachekey is the single source of response-cache keys.
//
// Every component that reads or writes the response cache derives its key
// here; constructing a key any other way is a bug. The codec is pure and
// total: identical inputs always yield identical keys, and the canonical
// form excludes volatile request fields (timestamps, request IDs) that do
// not affect the retrieval result.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// digestBytes is the truncation width of the SHA-256 digest. 16 bytes
// keeps collision probability negligible; widths below 8 bytes are
// disallowed because short truncation has caused observed collisions.
const digestBytes = 16

// Request is the canonical, semantically relevant portion of a retrieval
// request. Threshold and limit are included because they change the result
// set; two requests differing only in limit must not share a cache slot.
type Request struct {
	Query     string
	Threshold float64
	Limit     int
}

// Key identifies one (owner, logical request) pair in the response cache.
// The owner travels alongside the digest so owner-scoped invalidation can
// match entries without re-deriving anything.
type Key struct {
	Owner  string
	Digest string
}

// String renders the key in "owner/digest" form for logs.
func (k Key) String() string { return k.Owner + "/" + k.Digest }

// Derive maps (owner, request) to a cache key. It is deterministic across
// calls and across the read and write paths. The threshold is encoded at
// full float64 precision so any two distinct thresholds get distinct keys.
func Derive(owner string, req Request) Key {
	canonical := "q=" + NormalizeQuery(req.Query) +
		"\x1ft=" + strconv.FormatFloat(req.Threshold, 'g', -1, 64) +
		"\x1fn=" + strconv.Itoa(req.Limit)
	sum := sha256.Sum256([]byte(canonical))
	return Key{
		Owner:  owner,
		Digest: hex.EncodeToString(sum[:digestBytes]),
	}
}

// NormalizeQuery canonicalizes free-form query text: lowercased, trimmed,
// with internal whitespace runs collapsed to single spaces. Queries that
// differ only in casing or spacing are the same logical request.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
