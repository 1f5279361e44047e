// Package idempotency lets shoppers retry checkout and cart writes safely. A request carrying an
// Idempotency-Key is executed once per caller and key; retries with the same body get the stored
// response back, retries with a different body are refused.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a key stays bound to its first request.
const DefaultTTL = 24 * time.Hour

var (
	// ErrKeyReused is returned when a key is presented again with a different request.
	ErrKeyReused = errors.New("idempotency: key already used for a different request")
	// ErrInFlight is returned while the first request holding a key is still running.
	ErrInFlight = errors.New("idempotency: request with this key still in progress")
)

// Entry is what a store keeps per key.
type Entry struct {
	Fingerprint string
	Done        bool
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists key claims and finished responses.
//
// Claim returns (nil, nil) when the caller now owns the key, the finished Entry when a response
// can be replayed, ErrInFlight while the owner is still running and ErrKeyReused on a fingerprint
// mismatch. Expired entries are treated as absent.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now, expiresAt time.Time) (*Entry, error)
	Finish(ctx context.Context, key string, entry Entry) error
	Forget(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// documentID hashes the scoped key so arbitrary client input is a safe Firestore document id.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayableHeader filters hop-by-hop and per-response headers out of stored responses.
func replayableHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "X-Request-Id":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
