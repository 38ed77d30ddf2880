// Package store defines the item store contract: CRUD operations with
// result envelopes, indexed queries, named server-side mutations, and
// live event streams for create/update/delete.
package store

import (
	"context"

	"github.com/ms-iwade/opensearch-app/internal/model"
)

// Args carries named arguments for a server-side mutation.
type Args map[string]any

// Result is the envelope returned by write operations, mirroring the
// {data, errors} shape of the backing service. A transport failure is
// reported as a Go error instead; Errors holds failures the store
// itself reports (validation, unknown id).
type Result struct {
	Item   *model.Item
	Errors []string
}

// OK reports whether the store accepted the operation.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Store is the item store consumed by the reconciler, the submission
// controller, the search pathway, and the server facade.
//
// Query returns items of one status, newest first. The three On*
// methods open live event streams; each returned subscription must be
// cancelled when the consumer goes away. InvokeMutation runs a named
// server-side function; a successful mutation is not guaranteed to
// emit a corresponding live event, so callers reload afterwards.
type Store interface {
	Query(ctx context.Context, status model.Status) ([]model.Item, error)
	Create(ctx context.Context, content string, status model.Status) (Result, error)
	Update(ctx context.Context, id, content string, status model.Status) (Result, error)
	Delete(ctx context.Context, id string) (Result, error)

	OnCreate() *Subscription
	OnUpdate() *Subscription
	OnDelete() *Subscription

	InvokeMutation(ctx context.Context, name string, args Args) (Result, error)

	Close() error
}
