package invoker

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pitabwire/dataregion/model"
)

// EndpointGetQueryDetails describes a query.
const EndpointGetQueryDetails = "query/getQueryDetails.api"

// QueryClient implements model.QueryService over the remote query metadata
// API.
type QueryClient struct {
	c *Client
}

// NewQueryClient returns a query service backed by c.
func NewQueryClient(c *Client) *QueryClient {
	return &QueryClient{c: c}
}

type wireColumn struct {
	Name         string `json:"name"`
	FieldKeyPath string `json:"fieldKeyPath"`
	Caption      string `json:"caption"`
	JSONType     string `json:"jsonType"`
	SQLType      string `json:"sqlType"`
	MVEnabled    bool   `json:"mvEnabled"`
}

type wireView struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

type wireDetails struct {
	Columns     []wireColumn `json:"columns"`
	Views       []wireView   `json:"views"`
	DefaultView struct {
		Columns []wireColumn `json:"columns"`
	} `json:"defaultView"`
}

// GetQueryDetails fetches the columns and saved views of a query. Columns
// of the default view that the query itself does not list are appended.
func (q *QueryClient) GetQueryDetails(ctx context.Context, req model.QueryDetailsRequest) (model.QueryDetails, error) {
	if req.SchemaName == "" || req.QueryName == "" {
		return model.QueryDetails{}, model.NewBadRequestError("schema and query names are required")
	}
	params := url.Values{
		"schemaName": {req.SchemaName},
		"queryName":  {req.QueryName},
	}
	if req.ViewName != "" {
		params.Set("viewName", req.ViewName)
	}
	if len(req.Fields) > 0 {
		params.Set("fields", strings.Join(req.Fields, ","))
	}

	resp, err := q.c.do(ctx, call{
		endpoint: EndpointGetQueryDetails,
		method:   http.MethodGet,
		params:   params,
	})
	if err != nil {
		return model.QueryDetails{}, err
	}
	var wire wireDetails
	if err := decodeJSON(resp, &wire); err != nil {
		return model.QueryDetails{}, err
	}

	out := model.QueryDetails{
		Columns: make([]model.ColumnInfo, 0, len(wire.Columns)),
		Views:   make([]model.ViewInfo, 0, len(wire.Views)),
	}
	seen := make(map[string]bool, len(wire.Columns))
	for _, cols := range [][]wireColumn{wire.Columns, wire.DefaultView.Columns} {
		for _, c := range cols {
			info := c.info()
			if seen[info.FieldKey] {
				continue
			}
			seen[info.FieldKey] = true
			out.Columns = append(out.Columns, info)
		}
	}
	for _, v := range wire.Views {
		out.Views = append(out.Views, model.ViewInfo{Name: v.Name, Label: v.Label, Default: v.Default})
	}
	return out, nil
}

func (c wireColumn) info() model.ColumnInfo {
	fk := c.FieldKeyPath
	if fk == "" {
		fk = c.Name
	}
	return model.ColumnInfo{
		Name:      c.Name,
		FieldKey:  fk,
		Caption:   c.Caption,
		JSONType:  c.JSONType,
		SQLType:   c.SQLType,
		MVEnabled: c.MVEnabled,
	}
}
