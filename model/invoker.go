package model

import (
	"context"
	"net/url"
)

// SelectionService is the server-side keyed selection store.
type SelectionService interface {
	// SetSelected marks ids as checked or unchecked and returns the new
	// total count for the key.
	SetSelected(ctx context.Context, key string, ids []string, checked bool) (int, error)

	// ClearSelected empties the selection for key. The returned count is 0.
	ClearSelected(ctx context.Context, key string) (int, error)

	// GetSelected returns every selected id for key.
	GetSelected(ctx context.Context, key string) ([]string, error)

	// SelectAll selects every row matching the query and returns the count.
	SelectAll(ctx context.Context, cfg QueryConfig) (int, error)
}

// ContentService renders region content for a full parameter map.
// A server-reported exception is returned as an *ErrorEnvelope with code
// SERVER_EXCEPTION.
type ContentService interface {
	FetchContent(ctx context.Context, params url.Values) (Content, error)
}

// QueryService returns query metadata.
type QueryService interface {
	GetQueryDetails(ctx context.Context, req QueryDetailsRequest) (QueryDetails, error)
}
