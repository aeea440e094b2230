package invoker

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pitabwire/dataregion/internal/params"
	"github.com/pitabwire/dataregion/internal/sortfilter"
	"github.com/pitabwire/dataregion/model"
)

// Selection endpoints, relative to the base URL.
const (
	EndpointSetSelected   = "query/setSelected.api"
	EndpointClearSelected = "query/clearSelected.api"
	EndpointGetSelected   = "query/getSelected.api"
	EndpointSelectAll     = "query/selectAll.api"
)

// SelectionClient implements model.SelectionService over the remote
// selection API.
type SelectionClient struct {
	c *Client
}

// NewSelectionClient returns a selection service backed by c.
func NewSelectionClient(c *Client) *SelectionClient {
	return &SelectionClient{c: c}
}

type countResponse struct {
	Count int `json:"count"`
}

type selectedResponse struct {
	Selected []string `json:"selected"`
}

// SetSelected marks ids as checked or unchecked.
func (s *SelectionClient) SetSelected(ctx context.Context, key string, ids []string, checked bool) (int, error) {
	if key == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	form := url.Values{
		"key":     {key},
		"checked": {strconv.FormatBool(checked)},
	}
	for _, id := range ids {
		form.Add("id", id)
	}
	return s.count(ctx, EndpointSetSelected, http.MethodPost, form)
}

// ClearSelected empties the selection for key.
func (s *SelectionClient) ClearSelected(ctx context.Context, key string) (int, error) {
	if key == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	return s.count(ctx, EndpointClearSelected, http.MethodPost, url.Values{"key": {key}})
}

// GetSelected returns every selected id for key.
func (s *SelectionClient) GetSelected(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, model.NewBadRequestError("selection key is required")
	}
	resp, err := s.c.do(ctx, call{
		endpoint: EndpointGetSelected,
		method:   http.MethodGet,
		params:   url.Values{"key": {key}},
	})
	if err != nil {
		return nil, err
	}
	var out selectedResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	if out.Selected == nil {
		out.Selected = []string{}
	}
	return out.Selected, nil
}

// SelectAll selects every row matching cfg.
func (s *SelectionClient) SelectAll(ctx context.Context, cfg model.QueryConfig) (int, error) {
	if cfg.SelectionKey == "" {
		return 0, model.NewBadRequestError("selection key is required")
	}
	return s.count(ctx, EndpointSelectAll, http.MethodPost, SelectAllParams(cfg))
}

func (s *SelectionClient) count(ctx context.Context, endpoint, method string, form url.Values) (int, error) {
	resp, err := s.c.do(ctx, call{endpoint: endpoint, method: method, params: form})
	if err != nil {
		return 0, err
	}
	var out countResponse
	if err := decodeJSON(resp, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// HealthCheck reports the health of the underlying client.
func (s *SelectionClient) HealthCheck(ctx context.Context) error {
	return s.c.HealthCheck(ctx)
}

// SelectAllParams encodes cfg the way the select-all endpoint reads it.
// Paging and show mode parameters are never sent so that the server
// enumerates every matching row.
func SelectAllParams(cfg model.QueryConfig) url.Values {
	r := cfg.RegionName
	v := url.Values{}
	if cfg.SchemaName != "" {
		v.Set("schemaName", cfg.SchemaName)
	}
	if cfg.QueryName != "" {
		v.Set(r+".queryName", cfg.QueryName)
	}
	if cfg.SQL != "" {
		v.Set("sql", cfg.SQL)
	}
	if cfg.ViewName != "" {
		v.Set(r+params.ViewName, cfg.ViewName)
	}
	if cfg.Sort != "" {
		v.Set(r+params.Sort, cfg.Sort)
	}
	for _, f := range cfg.Filters {
		p := sortfilter.FilterPair(r, f)
		v.Add(p.Key, p.Value)
	}
	for k, val := range cfg.Parameters {
		v.Set(r+params.Param+k, val)
	}
	if cfg.ContainerFilter != "" {
		v.Set("containerFilter", cfg.ContainerFilter)
	}
	v.Set(r+".selectionKey", cfg.SelectionKey)
	v.Set("dataRegionName", r)
	return v
}
