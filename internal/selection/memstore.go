package selection

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/pitabwire/dataregion/model"
)

const btreeDegree = 32

// RowSource lists the row ids matching a query.
type RowSource interface {
	RowIDs(ctx context.Context, cfg model.QueryConfig) ([]string, error)
}

// RowSourceFunc adapts a function to RowSource.
type RowSourceFunc func(ctx context.Context, cfg model.QueryConfig) ([]string, error)

// RowIDs calls f.
func (f RowSourceFunc) RowIDs(ctx context.Context, cfg model.QueryConfig) ([]string, error) {
	return f(ctx, cfg)
}

// MemoryStore is an in-memory SelectionService. Ids are kept ordered per
// selection key.
type MemoryStore struct {
	rows RowSource

	mu   sync.Mutex
	sets map[string]*btree.BTreeG[string]
}

// NewMemoryStore creates an empty store. rows may be nil, in which case
// SelectAll is rejected.
func NewMemoryStore(rows RowSource) *MemoryStore {
	return &MemoryStore{
		rows: rows,
		sets: make(map[string]*btree.BTreeG[string]),
	}
}

// SetSelected adds or removes ids. Blank ids are ignored.
func (m *MemoryStore) SetSelected(_ context.Context, key string, ids []string, checked bool) (int, error) {
	if key == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.setLocked(key)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if checked {
			set.ReplaceOrInsert(id)
		} else {
			set.Delete(id)
		}
	}
	return set.Len(), nil
}

// ClearSelected forgets every id of key.
func (m *MemoryStore) ClearSelected(_ context.Context, key string) (int, error) {
	if key == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, key)
	return 0, nil
}

// GetSelected returns the ids of key in ascending order.
func (m *MemoryStore) GetSelected(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, set.Len())
	set.Ascend(func(id string) bool {
		ids = append(ids, id)
		return true
	})
	return ids, nil
}

// SelectAll adds every row the source returns for cfg.
func (m *MemoryStore) SelectAll(ctx context.Context, cfg model.QueryConfig) (int, error) {
	if cfg.SelectionKey == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	if m.rows == nil {
		return 0, model.NewBadRequestError("select all is not supported without a row source")
	}
	ids, err := m.rows.RowIDs(ctx, cfg)
	if err != nil {
		return 0, err
	}
	return m.SetSelected(ctx, cfg.SelectionKey, ids, true)
}

func (m *MemoryStore) setLocked(key string) *btree.BTreeG[string] {
	set, ok := m.sets[key]
	if !ok {
		set = btree.NewOrderedG[string](btreeDegree)
		m.sets[key] = set
	}
	return set
}
