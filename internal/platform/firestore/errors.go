package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error carries the failed operation and its classification. It satisfies
// repositories.RepositoryError so services can map it without importing the SDK.
type Error struct {
	Op   string
	Err  error
	kind errorKind
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e.kind == kindNotFound }

// IsConflict reports contention or a failed precondition.
func (e *Error) IsConflict() bool { return e.kind == kindConflict }

// IsUnavailable reports a transient backend failure worth retrying.
func (e *Error) IsUnavailable() bool { return e.kind == kindUnavailable }

// WrapError classifies err by its gRPC code. Context errors, domain errors returned from inside a
// transaction and errors that are already classified pass through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	kind := kindOther
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		kind = kindNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		kind = kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		kind = kindUnavailable
	}
	return &Error{Op: op, Err: err, kind: kind}
}
