// Package search implements full-text retrieval over the item store:
// a BM25 (Okapi) ranking over the content and status fields, with a
// match-all fallback when no term is given.
package search

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

// Searcher runs ranked queries against a snapshot of the store.
type Searcher struct {
	st     store.Store
	logger *zap.Logger
}

// New returns a searcher bound to the given store.
func New(st store.Store, logger *zap.Logger) *Searcher {
	return &Searcher{st: st, logger: logger}
}

// Search returns the items matching term, most relevant first. A
// blank term matches everything, newest first. Each call works on a
// fresh snapshot of both statuses, so results reflect the store at
// call time.
func (s *Searcher) Search(ctx context.Context, term string) ([]model.Item, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Warn("search snapshot failed", zap.Error(err))
		return nil, err
	}

	if strings.TrimSpace(term) == "" {
		sort.Slice(items, func(a, b int) bool {
			if !items[a].CreatedAt.Equal(items[b].CreatedAt) {
				return items[a].CreatedAt.After(items[b].CreatedAt)
			}
			return items[a].ID > items[b].ID
		})
		return items, nil
	}

	return buildIndex(items).search(term), nil
}

func (s *Searcher) snapshot(ctx context.Context) ([]model.Item, error) {
	var all []model.Item
	for _, status := range model.Statuses() {
		items, err := s.st.Query(ctx, status)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}
