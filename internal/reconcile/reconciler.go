// Package reconcile maintains the rendered mirror of the item store:
// an ordered collection for the active status filter plus an
// unfiltered aggregate collection used for statistics. Live
// create/update/delete events are merged into both, with a local
// edit-in-progress guard that a concurrent remote update invalidates.
package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

// Reconciler holds a transient, best-effort mirror of the store for
// one view. Not safe for concurrent use: a single event loop must own
// it and serialize loads, event application, and edits.
type Reconciler struct {
	st     store.Store
	logger *zap.Logger

	filtered  []model.Item
	all       []model.Item
	filter    model.Status
	editingID string
}

// New returns a reconciler filtering on PENDING. Call Load and
// LoadAll to populate it.
func New(st store.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		st:     st,
		logger: logger,
		filter: model.StatusPending,
	}
}

// Filtered returns the collection for the active status filter,
// newest first. The caller must not mutate it.
func (r *Reconciler) Filtered() []model.Item { return r.filtered }

// All returns the aggregate collection. Order is not meaningful.
func (r *Reconciler) All() []model.Item { return r.all }

// Filter returns the active status filter.
func (r *Reconciler) Filter() model.Status { return r.filter }

// EditingID returns the id under local edit, or "" if none.
func (r *Reconciler) EditingID() string { return r.editingID }

// Find returns the aggregate entry with the given id.
func (r *Reconciler) Find(id string) (model.Item, bool) {
	if i := indexByID(r.all, id); i >= 0 {
		return r.all[i], true
	}
	return model.Item{}, false
}

// Stats counts the aggregate collection by status.
func (r *Reconciler) Stats() (pending, completed int) {
	for _, item := range r.all {
		if item.Status == model.StatusCompleted {
			completed++
		} else {
			pending++
		}
	}
	return pending, completed
}

// Load replaces the filtered collection with a fresh query for the
// active filter. On store failure it logs and leaves the last
// known-good collection in place; there is no retry.
func (r *Reconciler) Load(ctx context.Context) {
	items, err := r.st.Query(ctx, r.filter)
	if err != nil {
		r.logger.Warn("load failed", zap.String("filter", string(r.filter)), zap.Error(err))
		return
	}
	r.filtered = items
}

// LoadAll replaces the aggregate collection with one query per
// status, concatenated. No ordering guarantee across the
// concatenation. On any failure the previous aggregate is kept.
func (r *Reconciler) LoadAll(ctx context.Context) {
	var all []model.Item
	for _, status := range model.Statuses() {
		items, err := r.st.Query(ctx, status)
		if err != nil {
			r.logger.Warn("load all failed", zap.String("status", string(status)), zap.Error(err))
			return
		}
		all = append(all, items...)
	}
	r.all = all
}

// SetFilter switches the active filter and reloads the filtered
// collection. The aggregate collection is untouched.
func (r *Reconciler) SetFilter(ctx context.Context, filter model.Status) {
	r.filter = filter
	r.Load(ctx)
}

// Collections is a freshly queried mirror, ready to install. Filter
// records the active filter the snapshot was taken for.
type Collections struct {
	Filtered []model.Item
	All      []model.Item
	Filter   model.Status
}

// FetchCollections queries the store for a full snapshot without
// touching any reconciler. It backs asynchronous reloads: the fetch
// runs off the event loop, and the loop installs the result.
func FetchCollections(ctx context.Context, st store.Store, filter model.Status) (Collections, error) {
	filtered, err := st.Query(ctx, filter)
	if err != nil {
		return Collections{}, err
	}
	var all []model.Item
	for _, status := range model.Statuses() {
		items, err := st.Query(ctx, status)
		if err != nil {
			return Collections{}, err
		}
		all = append(all, items...)
	}
	return Collections{Filtered: filtered, All: all, Filter: filter}, nil
}

// Install replaces both collections with a fetched snapshot. A
// snapshot taken for a different filter is stale (the filter switched
// while the fetch was in flight) and is dropped; Install reports
// whether the snapshot was applied.
func (r *Reconciler) Install(c Collections) bool {
	if c.Filter != r.filter {
		return false
	}
	r.filtered = c.Filtered
	r.all = c.All
	return true
}

// ApplyCreate merges a remote create event: prepend to the filtered
// collection when the status matches the active filter, and prepend
// to the aggregate unconditionally. An id already present is left
// alone, so an optimistic local insert and its later live event don't
// duplicate.
func (r *Reconciler) ApplyCreate(item model.Item) {
	if item.Status == r.filter && indexByID(r.filtered, item.ID) < 0 {
		r.filtered = append([]model.Item{item}, r.filtered...)
	}
	if indexByID(r.all, item.ID) < 0 {
		r.all = append([]model.Item{item}, r.all...)
	}
}

// ApplyUpdate merges a remote update event. An item whose status left
// the active filter is removed from the filtered collection; one
// already present is replaced in place, position preserved; one whose
// status just entered the filter is prepended, same as a create. The
// aggregate entry is replaced unconditionally. A matching in-flight
// edit is invalidated: the remote write already won, and keeping the
// editor open would overwrite newer state with stale input.
func (r *Reconciler) ApplyUpdate(item model.Item) {
	if item.Status != r.filter {
		r.filtered = removeByID(r.filtered, item.ID)
	} else if i := indexByID(r.filtered, item.ID); i >= 0 {
		r.filtered[i] = item
	} else if indexByID(r.all, item.ID) >= 0 {
		r.filtered = append([]model.Item{item}, r.filtered...)
	}

	if i := indexByID(r.all, item.ID); i >= 0 {
		r.all[i] = item
	}

	if r.editingID == item.ID {
		r.editingID = ""
	}
}

// ApplyDelete removes the item from both collections. Unknown ids are
// a no-op, so redelivered delete events are harmless.
func (r *Reconciler) ApplyDelete(item model.Item) {
	r.filtered = removeByID(r.filtered, item.ID)
	r.all = removeByID(r.all, item.ID)
}

// BeginEdit marks an item as under local edit. This is a UI guard
// only; nothing prevents another session from editing the same item.
func (r *Reconciler) BeginEdit(id string) { r.editingID = id }

// CancelEdit clears the edit guard.
func (r *Reconciler) CancelEdit() { r.editingID = "" }

func indexByID(items []model.Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func removeByID(items []model.Item, id string) []model.Item {
	i := indexByID(items, id)
	if i < 0 {
		return items
	}
	return append(items[:i], items[i+1:]...)
}
