package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionIdempotencyKeys = "idempotencyKeys"
	defaultCleanupLimit       = 200
)

// FirestoreStore keeps entries in the idempotencyKeys collection, one document per hashed key.
// expiresAt doubles as the field for a Firestore TTL policy.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore returns a store over client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type keyDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	ClaimedAt   time.Time           `firestore:"claimedAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(collectionIdempotencyKeys).Doc(documentID(key))
}

// Claim creates the key document, or inspects the existing one inside a transaction so two
// concurrent retries cannot both win.
func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now, expiresAt time.Time) (*Entry, error) {
	ref := s.doc(key)
	var replay *Entry
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		replay = nil
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode idempotency key: %w", err)
			}
			if now.Before(existing.ExpiresAt) {
				switch {
				case existing.Fingerprint != fingerprint:
					return ErrKeyReused
				case !existing.Done:
					return ErrInFlight
				}
				replay = &Entry{
					Fingerprint: existing.Fingerprint,
					Done:        true,
					Status:      existing.Status,
					Header:      http.Header(existing.Header),
					Body:        existing.Body,
					ExpiresAt:   existing.ExpiresAt,
				}
				return nil
			}
		}
		return tx.Set(ref, keyDocument{Fingerprint: fingerprint, ClaimedAt: now.UTC(), ExpiresAt: expiresAt.UTC()})
	})
	if errors.Is(err, ErrKeyReused) || errors.Is(err, ErrInFlight) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	return replay, nil
}

func (s *FirestoreStore) Finish(ctx context.Context, key string, entry Entry) error {
	_, err := s.doc(key).Set(ctx, map[string]any{
		"done":      true,
		"status":    entry.Status,
		"header":    map[string][]string(replayableHeader(entry.Header)),
		"body":      entry.Body,
		"expiresAt": entry.ExpiresAt.UTC(),
	}, firestore.MergeAll)
	return err
}

func (s *FirestoreStore) Forget(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit expired documents with a bulk writer.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	docs, err := s.client.Collection(collectionIdempotencyKeys).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("query expired idempotency keys: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, fmt.Errorf("queue idempotency key delete: %w", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}
