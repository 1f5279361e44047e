package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded snapshot.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection binds a collection name to the struct its documents decode into.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection returns a typed handle on the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: name}
}

// Doc returns the reference for id, for use inside transactions.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.name+".doc", errors.New("document id is required"))
	}
	if c.provider == nil {
		return nil, WrapError(c.name+".doc", errors.New("provider is nil"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get reads and decodes id. A missing document yields an error whose IsNotFound reports true.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.name+".get", err)
	}
	return Decode[T](snap)
}

// Decode converts a snapshot, such as one read through a transaction, into a Document.
func Decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}
