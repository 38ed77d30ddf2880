// Package storetest provides an in-memory store.Store for tests. It
// mirrors the sqlstore contract, including the event hubs and the
// built-in createCustomTodo mutation (which, like the real one, does
// not publish a create event).
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	items map[string]model.Item

	creates *store.Hub
	updates *store.Hub
	deletes *store.Hub

	// FailAll makes every operation return a transport error, for
	// exercising failure paths.
	FailAll bool

	// Call counters, for asserting that an operation did or did not
	// reach the store.
	QueryCalls    int
	CreateCalls   int
	UpdateCalls   int
	DeleteCalls   int
	MutationCalls int
}

// New returns an empty in-memory store.
func New() *Store {
	logger := zap.NewNop()
	return &Store{
		items:   make(map[string]model.Item),
		creates: store.NewHub(logger),
		updates: store.NewHub(logger),
		deletes: store.NewHub(logger),
	}
}

// Seed inserts items directly, without events.
func (s *Store) Seed(items ...model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.items[item.ID] = item
	}
}

func (s *Store) Query(ctx context.Context, status model.Status) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls++
	if s.FailAll {
		return nil, fmt.Errorf("storetest: query failed")
	}

	var items []model.Item
	for _, item := range s.items {
		if item.Status == status {
			items = append(items, item)
		}
	}
	// Newest first, id as tiebreak, matching the indexed query.
	sort.Slice(items, func(a, b int) bool {
		if !items[a].CreatedAt.Equal(items[b].CreatedAt) {
			return items[a].CreatedAt.After(items[b].CreatedAt)
		}
		return items[a].ID > items[b].ID
	})
	return items, nil
}

func (s *Store) Create(ctx context.Context, content string, status model.Status) (store.Result, error) {
	s.mu.Lock()
	s.CreateCalls++
	if s.FailAll {
		s.mu.Unlock()
		return store.Result{}, fmt.Errorf("storetest: create failed")
	}
	item := model.Item{
		ID:        model.NewID(),
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	s.items[item.ID] = item
	s.mu.Unlock()

	s.creates.Publish(item)
	return store.Result{Item: &item}, nil
}

func (s *Store) Update(ctx context.Context, id, content string, status model.Status) (store.Result, error) {
	s.mu.Lock()
	s.UpdateCalls++
	if s.FailAll {
		s.mu.Unlock()
		return store.Result{}, fmt.Errorf("storetest: update failed")
	}
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return store.Result{Errors: []string{"item not found: " + id}}, nil
	}
	item.Content = content
	item.Status = status
	s.items[id] = item
	s.mu.Unlock()

	s.updates.Publish(item)
	return store.Result{Item: &item}, nil
}

func (s *Store) Delete(ctx context.Context, id string) (store.Result, error) {
	s.mu.Lock()
	s.DeleteCalls++
	if s.FailAll {
		s.mu.Unlock()
		return store.Result{}, fmt.Errorf("storetest: delete failed")
	}
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return store.Result{Errors: []string{"item not found: " + id}}, nil
	}
	delete(s.items, id)
	s.mu.Unlock()

	s.deletes.Publish(item)
	return store.Result{Item: &item}, nil
}

func (s *Store) OnCreate() *store.Subscription { return s.creates.Subscribe() }
func (s *Store) OnUpdate() *store.Subscription { return s.updates.Subscribe() }
func (s *Store) OnDelete() *store.Subscription { return s.deletes.Subscribe() }

func (s *Store) InvokeMutation(ctx context.Context, name string, args store.Args) (store.Result, error) {
	s.mu.Lock()
	s.MutationCalls++
	if s.FailAll {
		s.mu.Unlock()
		return store.Result{}, fmt.Errorf("storetest: mutation failed")
	}
	if name != "createCustomTodo" {
		s.mu.Unlock()
		return store.Result{Errors: []string{"unknown mutation: " + name}}, nil
	}

	content, _ := args["content"].(string)
	if content == "" {
		content = "untitled todo"
	}
	status := model.StatusPending
	if raw, ok := args["status"].(string); ok && raw != "" {
		status = model.Status(raw)
	}
	item := model.Item{
		ID:        model.NewID(),
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	s.items[item.ID] = item
	s.mu.Unlock()

	// Mediated writes bypass the create hub on purpose.
	return store.Result{Item: &item}, nil
}

func (s *Store) Close() error {
	s.creates.Close()
	s.updates.Close()
	s.deletes.Close()
	return nil
}
