package region

import (
	"context"
	"strings"
	"sync"
)

// Location is the query string of one page. Every region on the page reads
// and rewrites it; each touches only the keys prefixed by its own name.
type Location struct {
	mu    sync.RWMutex
	query string
}

// NewLocation returns a location holding query. A leading "?" is dropped.
func NewLocation(query string) *Location {
	return &Location{query: strings.TrimPrefix(query, "?")}
}

// Query returns the current query string without a leading "?".
func (l *Location) Query() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.query
}

// Replace overwrites the query string.
func (l *Location) Replace(query string) {
	l.mu.Lock()
	l.query = strings.TrimPrefix(query, "?")
	l.mu.Unlock()
}

// Update rewrites the query string with fn under the location lock and
// returns the new value.
func (l *Location) Update(fn func(current string) string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = strings.TrimPrefix(fn(l.query), "?")
	return l.query
}

// Navigator is told about every classic-mode navigation.
type Navigator interface {
	Navigate(ctx context.Context, region, query string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(ctx context.Context, region, query string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, region, query string) {
	f(ctx, region, query)
}
