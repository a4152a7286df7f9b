// Package store defines the task document store contract and its adapters.
// Every document carries an opaque fence token (the store's compare-and-set
// handle); callers never interpret it beyond passing it back unchanged.
package store

import (
	"context"
	"errors"
	"fmt"

	"taskfabric.dev/internal/task"
)

// ErrNotFound is returned when a document id has no matching document.
var ErrNotFound = errors.New("store: document not found")

// ErrConflict is returned when a caller's fence no longer matches the
// document's current fence (someone else wrote it in between).
var ErrConflict = errors.New("store: fence conflict")

// ErrUnavailable wraps any transport or backend failure that isn't a
// not-found or a conflict: the caller should treat the store as down.
type ErrUnavailable struct {
	Err error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("store: unavailable: %v", e.Err)
}

func (e *ErrUnavailable) Unwrap() error {
	return e.Err
}

// Query selects and orders documents for FindMany. Sort entries are applied
// in order; the zero value means "ascending".
type Query struct {
	Status   task.Status
	TaskName string
	Sort     []SortKey
	Limit    int
}

// SortKey names a field and its direction for a Query.
type SortKey struct {
	Field      string
	Descending bool
}

// TaskStore is the document store contract the broker is built on. All
// methods are safe for concurrent use by multiple goroutines.
type TaskStore interface {
	// FindOne returns the document with the given id, or ErrNotFound.
	FindOne(ctx context.Context, id string) (*task.Task, error)

	// InsertIfAbsent creates t if no document with t.ID exists yet, and
	// returns the fence assigned to it. If a document already exists it
	// returns ErrConflict without modifying it.
	InsertIfAbsent(ctx context.Context, t *task.Task) (fence string, err error)

	// ReplaceIfMatch writes t in place of the document at t.ID, but only if
	// that document's current fence equals fence. On success it returns the
	// new fence. On a stale fence it returns ErrConflict.
	ReplaceIfMatch(ctx context.Context, t *task.Task, fence string) (newFence string, err error)

	// DeleteIfMatch removes the document at id, but only if its current
	// fence equals fence. On a stale fence it returns ErrConflict.
	DeleteIfMatch(ctx context.Context, id string, fence string) error

	// FindMany returns every document matching q.
	FindMany(ctx context.Context, q Query) ([]*task.Task, error)
}
