package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/kartline/api/internal/platform/firestore"
)

const sequencesCollection = "sequences"

type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// sequenceCounter keeps one document per named sequence. Values are claimed inside the caller's
// transaction, so a value is only spent when that transaction commits.
type sequenceCounter struct {
	docs *pfirestore.Collection[sequenceDocument]
}

func newSequenceCounter(provider *pfirestore.Provider) sequenceCounter {
	return sequenceCounter{docs: pfirestore.NewCollection[sequenceDocument](provider, sequencesCollection)}
}

// sequenceClaim is a value read but not yet written back.
type sequenceClaim struct {
	ref   *firestore.DocumentRef
	value int64
}

func validSequenceName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.Contains(name, "/")
}

// claim reads the sequence and returns the next value. Firestore requires every read before the
// first write, so claim belongs with the transaction's other reads and store after them.
func (c sequenceCounter) claim(ctx context.Context, tx *firestore.Transaction, name string) (sequenceClaim, error) {
	if !validSequenceName(name) {
		return sequenceClaim{}, fmt.Errorf("sequences: invalid name %q", name)
	}
	ref, err := c.docs.Doc(ctx, strings.TrimSpace(name))
	if err != nil {
		return sequenceClaim{}, err
	}
	var current sequenceDocument
	snap, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.OK:
		if err := snap.DataTo(&current); err != nil {
			return sequenceClaim{}, fmt.Errorf("decode sequence %s: %w", ref.ID, err)
		}
	case codes.NotFound:
	default:
		return sequenceClaim{}, err
	}
	return sequenceClaim{ref: ref, value: current.Value + 1}, nil
}

func (c sequenceClaim) store(tx *firestore.Transaction, now time.Time) error {
	return tx.Set(c.ref, sequenceDocument{Value: c.value, UpdatedAt: now.UTC()})
}
