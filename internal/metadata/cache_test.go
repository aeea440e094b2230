package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/dataregion/model"
)

type mockQueryService struct {
	mu      sync.Mutex
	calls   int
	details model.QueryDetails
	err     error
}

func (m *mockQueryService) GetQueryDetails(_ context.Context, _ model.QueryDetailsRequest) (model.QueryDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.details, m.err
}

func (m *mockQueryService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type countingRecorder struct {
	hits, misses int
}

func (r *countingRecorder) RecordMetadataCacheHit()  { r.hits++ }
func (r *countingRecorder) RecordMetadataCacheMiss() { r.misses++ }

func usersDetails() model.QueryDetails {
	return model.QueryDetails{
		Columns: []model.ColumnInfo{
			{Name: "Age", FieldKey: "Age", SQLType: "INTEGER"},
			{Name: "Email", FieldKey: "Email", SQLType: "VARCHAR"},
		},
		Views: []model.ViewInfo{{Name: "", Default: true}},
	}
}

var usersReq = model.QueryDetailsRequest{SchemaName: "core", QueryName: "Users"}

func TestCache_GetQueryDetails_cached(t *testing.T) {
	upstream := &mockQueryService{details: usersDetails()}
	rec := &countingRecorder{}
	c := NewCache(upstream, time.Minute, 10, rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		qd, err := c.GetQueryDetails(ctx, usersReq)
		if err != nil {
			t.Fatalf("GetQueryDetails() error = %v", err)
		}
		if len(qd.Columns) != 2 {
			t.Errorf("columns = %d, want 2", len(qd.Columns))
		}
	}
	if upstream.callCount() != 1 {
		t.Errorf("upstream called %d times, want 1", upstream.callCount())
	}
	if rec.hits != 2 || rec.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", rec.hits, rec.misses)
	}
}

func TestCache_fieldOrderSharesEntry(t *testing.T) {
	upstream := &mockQueryService{details: usersDetails()}
	c := NewCache(upstream, time.Minute, 10, nil)
	ctx := context.Background()

	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: "Users", Fields: []string{"Age", "Email"}})
	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: "Users", Fields: []string{"Email", "Age"}})

	if upstream.callCount() != 1 {
		t.Errorf("upstream called %d times, want 1", upstream.callCount())
	}
}

func TestCache_expiry(t *testing.T) {
	upstream := &mockQueryService{details: usersDetails()}
	c := NewCache(upstream, 10*time.Millisecond, 10, nil)
	ctx := context.Background()

	c.GetQueryDetails(ctx, usersReq)
	time.Sleep(20 * time.Millisecond)
	c.GetQueryDetails(ctx, usersReq)

	if upstream.callCount() != 2 {
		t.Errorf("upstream called %d times, want 2 after expiry", upstream.callCount())
	}
}

func TestCache_errorsAreNotCached(t *testing.T) {
	boom := errors.New("boom")
	upstream := &mockQueryService{err: boom}
	c := NewCache(upstream, time.Minute, 10, nil)
	ctx := context.Background()

	if _, err := c.GetQueryDetails(ctx, usersReq); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapping %v", err, boom)
	}
	c.GetQueryDetails(ctx, usersReq)
	if upstream.callCount() != 2 {
		t.Errorf("upstream called %d times, want 2", upstream.callCount())
	}
	if c.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, want 0", c.CacheLen())
	}
}

func TestCache_exceptionIsServerError(t *testing.T) {
	upstream := &mockQueryService{details: model.QueryDetails{Exception: "Query 'Nope' not found"}}
	c := NewCache(upstream, time.Minute, 10, nil)

	_, err := c.GetQueryDetails(context.Background(), usersReq)
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrServerException {
		t.Fatalf("error = %v, want %s", err, model.ErrServerException)
	}
	if c.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, want 0", c.CacheLen())
	}
}

func TestCache_maxEntries(t *testing.T) {
	upstream := &mockQueryService{details: usersDetails()}
	c := NewCache(upstream, time.Minute, 2, nil)
	ctx := context.Background()

	for _, q := range []string{"A", "B", "C"} {
		c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: q})
	}
	if c.CacheLen() != 2 {
		t.Errorf("CacheLen() = %d, want 2", c.CacheLen())
	}
}

func TestCache_Invalidate(t *testing.T) {
	upstream := &mockQueryService{details: usersDetails()}
	c := NewCache(upstream, time.Minute, 10, nil)
	ctx := context.Background()

	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: "Users"})
	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: "Users", ViewName: "active"})
	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "core", QueryName: "Groups"})
	c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: "lists", QueryName: "Users"})

	c.Invalidate("core", "Users")
	if c.CacheLen() != 2 {
		t.Errorf("CacheLen() after query invalidate = %d, want 2", c.CacheLen())
	}
	c.Invalidate("core", "")
	if c.CacheLen() != 1 {
		t.Errorf("CacheLen() after schema invalidate = %d, want 1", c.CacheLen())
	}
}

func TestCache_Column(t *testing.T) {
	c := NewCache(&mockQueryService{details: usersDetails()}, time.Minute, 10, nil)
	ctx := context.Background()

	col, err := c.Column(ctx, "core", "Users", "Age")
	if err != nil {
		t.Fatalf("Column() error = %v", err)
	}
	if col.SQLType != "INTEGER" {
		t.Errorf("SQLType = %q, want INTEGER", col.SQLType)
	}

	_, err = c.Column(ctx, "core", "Users", "Missing")
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrNotFound {
		t.Errorf("Column(Missing) error = %v, want %s", err, model.ErrNotFound)
	}
}
