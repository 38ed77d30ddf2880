// Package sqlstore is the SQLite-backed item store. It keeps durable
// state in a single database file, serves indexed status queries, and
// fans out live create/update/delete events after each successful
// commit.
package sqlstore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_by_status ON items (status, created_at DESC);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. Created if missing; the parent
	// directory must exist. ":memory:" works only with PoolSize 1.
	Path string

	// PoolSize is the connection pool size. Defaults to
	// max(NumCPU, 4); SQLite serializes writes regardless, extra
	// connections only help concurrent reads.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *zap.Logger
}

// MutationFunc is a server-side function invocable by name through
// InvokeMutation.
type MutationFunc func(ctx context.Context, args store.Args) (store.Result, error)

// Store implements store.Store on SQLite. Safe for concurrent use;
// individual connections are taken per call.
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger

	creates *store.Hub
	updates *store.Hub
	deletes *store.Hub

	mutations map[string]MutationFunc
}

// Open opens (and if needed creates) the database at cfg.Path and
// registers the built-in createCustomTodo mutation. The caller must
// Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlstore: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("sqlstore: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", cfg.Path, err)
	}

	s := &Store{
		pool:      pool,
		logger:    cfg.Logger,
		creates:   store.NewHub(cfg.Logger),
		updates:   store.NewHub(cfg.Logger),
		deletes:   store.NewHub(cfg.Logger),
		mutations: make(map[string]MutationFunc),
	}
	s.RegisterMutation("createCustomTodo", s.createCustomTodo)

	cfg.Logger.Info("item store opened",
		zap.String("path", cfg.Path),
		zap.Int("pool_size", poolSize),
	)
	return s, nil
}

// prepareConn applies pragmas and the schema to each pooled
// connection. WAL keeps readers unblocked by the single writer;
// NORMAL synchronous survives process crashes, which is enough for a
// local mirror of user input.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlstore: creating schema: %w", err)
	}
	return nil
}

// Close cancels all live subscriptions and closes the pool.
func (s *Store) Close() error {
	s.creates.Close()
	s.updates.Close()
	s.deletes.Close()
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlstore: close: %w", err)
	}
	return nil
}

// Query returns all items with the given status, newest first.
func (s *Store) Query(ctx context.Context, status model.Status) ([]model.Item, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("sqlstore: invalid status %q", status)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer s.pool.Put(conn)

	var items []model.Item
	err = sqlitex.Execute(conn,
		`SELECT id, content, status, created_at FROM items
		 WHERE status = ? ORDER BY created_at DESC, id DESC`,
		&sqlitex.ExecOptions{
			Args: []any{string(status)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				items = append(items, readItem(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query status %s: %w", status, err)
	}
	return items, nil
}

// Create inserts a new item and publishes a create event.
func (s *Store) Create(ctx context.Context, content string, status model.Status) (store.Result, error) {
	if !status.Valid() {
		return store.Result{Errors: []string{fmt.Sprintf("invalid status %q", status)}}, nil
	}

	item := model.Item{
		ID:        model.NewID(),
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.insert(ctx, item); err != nil {
		return store.Result{}, err
	}

	s.creates.Publish(item)
	return store.Result{Item: &item}, nil
}

// Update rewrites an item's content and status and publishes an
// update event after the commit. An unknown id is reported in the
// result envelope, not as a transport error.
func (s *Store) Update(ctx context.Context, id, content string, status model.Status) (store.Result, error) {
	if !status.Valid() {
		return store.Result{Errors: []string{fmt.Sprintf("invalid status %q", status)}}, nil
	}

	item, found, err := s.updateTx(ctx, id, content, status)
	if err != nil {
		return store.Result{}, err
	}
	if !found {
		return store.Result{Errors: []string{"item not found: " + id}}, nil
	}

	s.updates.Publish(item)
	return store.Result{Item: &item}, nil
}

func (s *Store) updateTx(ctx context.Context, id, content string, status model.Status) (item model.Item, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: update: %w", err)
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: begin update: %w", err)
	}
	defer endTx(&err)

	item, found, err = selectItem(conn, id)
	if err != nil || !found {
		return model.Item{}, false, err
	}

	item.Content = content
	item.Status = status
	err = sqlitex.Execute(conn,
		`UPDATE items SET content = ?, status = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{content, string(status), id}})
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: update %s: %w", id, err)
	}
	return item, true, nil
}

// Delete removes an item and publishes a delete event after the
// commit. Deleting an unknown id is reported in the envelope; no
// event is emitted.
func (s *Store) Delete(ctx context.Context, id string) (store.Result, error) {
	item, found, err := s.deleteTx(ctx, id)
	if err != nil {
		return store.Result{}, err
	}
	if !found {
		return store.Result{Errors: []string{"item not found: " + id}}, nil
	}

	s.deletes.Publish(item)
	return store.Result{Item: &item}, nil
}

func (s *Store) deleteTx(ctx context.Context, id string) (item model.Item, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: delete: %w", err)
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: begin delete: %w", err)
	}
	defer endTx(&err)

	item, found, err = selectItem(conn, id)
	if err != nil || !found {
		return model.Item{}, false, err
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM items WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: delete %s: %w", id, err)
	}
	return item, true, nil
}

// OnCreate opens a live stream of created items.
func (s *Store) OnCreate() *store.Subscription { return s.creates.Subscribe() }

// OnUpdate opens a live stream of updated items.
func (s *Store) OnUpdate() *store.Subscription { return s.updates.Subscribe() }

// OnDelete opens a live stream of deleted items.
func (s *Store) OnDelete() *store.Subscription { return s.deletes.Subscribe() }

// RegisterMutation makes fn invocable through InvokeMutation under
// the given name, replacing any previous registration.
func (s *Store) RegisterMutation(name string, fn MutationFunc) {
	s.mutations[name] = fn
}

// InvokeMutation runs a registered server-side function. An unknown
// name is reported in the envelope.
func (s *Store) InvokeMutation(ctx context.Context, name string, args store.Args) (store.Result, error) {
	fn, ok := s.mutations[name]
	if !ok {
		return store.Result{Errors: []string{"unknown mutation: " + name}}, nil
	}
	return fn(ctx, args)
}

// createCustomTodo is the mediated creation pathway. It fills in
// defaults the way the original function handler did (placeholder
// content, PENDING status) and writes the row directly. It does NOT
// publish a create event; callers that need the new item visible must
// reload after a successful call.
func (s *Store) createCustomTodo(ctx context.Context, args store.Args) (store.Result, error) {
	content, _ := args["content"].(string)
	if content == "" {
		content = "untitled todo"
	}
	status := model.StatusPending
	if raw, ok := args["status"].(string); ok && raw != "" {
		status = model.Status(raw)
		if !status.Valid() {
			return store.Result{Errors: []string{fmt.Sprintf("invalid status %q", raw)}}, nil
		}
	}

	item := model.Item{
		ID:        model.NewID(),
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.insert(ctx, item); err != nil {
		return store.Result{}, err
	}

	s.logger.Info("createCustomTodo", zap.String("id", item.ID))
	return store.Result{Item: &item}, nil
}

func (s *Store) insert(ctx context.Context, item model.Item) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: insert: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO items (id, content, status, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{item.ID, item.Content, string(item.Status), item.CreatedAt.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("sqlstore: insert %s: %w", item.ID, err)
	}
	return nil
}

func selectItem(conn *sqlite.Conn, id string) (model.Item, bool, error) {
	var item model.Item
	var found bool
	err := sqlitex.Execute(conn,
		`SELECT id, content, status, created_at FROM items WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				item = readItem(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return model.Item{}, false, fmt.Errorf("sqlstore: select %s: %w", id, err)
	}
	return item, found, nil
}

// readItem scans the canonical column order:
// id(0), content(1), status(2), created_at(3).
func readItem(stmt *sqlite.Stmt) model.Item {
	return model.Item{
		ID:        stmt.ColumnText(0),
		Content:   stmt.ColumnText(1),
		Status:    model.Status(stmt.ColumnText(2)),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}
}
