package model

import "net/url"

// Pair is one query-string parameter. A pair without a value serialises as
// a bare key, which valueless filter operators such as "isblank" rely on.
type Pair struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
}

// P returns a pair with a value.
func P(key, value string) Pair {
	return Pair{Key: key, Value: value, HasValue: true}
}

// Bare returns a pair without a value.
func Bare(key string) Pair {
	return Pair{Key: key}
}

// Pairs is an ordered list of query-string parameters. Order is preserved
// through parse and build; duplicate keys are allowed.
type Pairs []Pair

// Get returns the value of the first pair with the given key.
func (ps Pairs) Get(key string) (string, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Has reports whether any pair has the given key.
func (ps Pairs) Has(key string) bool {
	_, ok := ps.Get(key)
	return ok
}

// Values converts the pairs to url.Values. Valueless pairs map to an empty
// string.
func (ps Pairs) Values() url.Values {
	v := make(url.Values, len(ps))
	for _, p := range ps {
		v.Add(p.Key, p.Value)
	}
	return v
}

// ShowMode selects which rows a region displays. Paginated is the default and
// is represented by the absence of the showRows parameter.
type ShowMode string

const (
	ShowPaginated  ShowMode = "paginated"
	ShowAll        ShowMode = "all"
	ShowSelected   ShowMode = "selected"
	ShowUnselected ShowMode = "unselected"
	ShowNone       ShowMode = "none"
)

// Valid reports whether m is a recognised show mode.
func (m ShowMode) Valid() bool {
	switch m {
	case ShowPaginated, ShowAll, ShowSelected, ShowUnselected, ShowNone:
		return true
	}
	return false
}

// SortEntry is one signed field in a sort spec. Direction is "+" or "-";
// "+" serialises as an unmarked field key.
type SortEntry struct {
	FieldKey  string `json:"field_key"`
	Direction string `json:"direction"`
}

// Filter is one filter parameter of a region.
type Filter struct {
	FieldKey string `json:"field_key"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
}

// RegionState is the decoded display state of one region, derived from the
// live parameter list. It is read-only; mutations go through the region
// store operations.
type RegionState struct {
	Name                string            `json:"name"`
	Offset              int               `json:"offset"`
	PageSize            int               `json:"page_size"`
	ShowMode            ShowMode          `json:"show_mode"`
	Sort                []SortEntry       `json:"sort,omitempty"`
	Filters             []Filter          `json:"filters,omitempty"`
	ViewName            string            `json:"view_name,omitempty"`
	ReportID            string            `json:"report_id,omitempty"`
	ContainerFilterName string            `json:"container_filter_name,omitempty"`
	Parameters          map[string]string `json:"parameters,omitempty"`
}

// ViewKind distinguishes a saved grid view from a report.
type ViewKind string

const (
	ViewKindView   ViewKind = "view"
	ViewKindReport ViewKind = "report"
)

// ViewSelector names the view or report to switch a region to.
type ViewSelector struct {
	Kind     ViewKind `json:"kind"`
	Name     string   `json:"name,omitempty"`
	ReportID string   `json:"report_id,omitempty"`
}

// ViewOverrides replaces the filter, sort and container filter state of a
// region as part of a view change. When present, existing filters, sort,
// columns and container filter are all discarded first.
type ViewOverrides struct {
	Filters         []Filter    `json:"filters,omitempty"`
	Sort            []SortEntry `json:"sort,omitempty"`
	ContainerFilter string      `json:"container_filter,omitempty"`
}

// TransitionKind describes what a mutating operation dispatched.
type TransitionKind string

const (
	TransitionNavigate TransitionKind = "navigate"
	TransitionReload   TransitionKind = "reload"
	TransitionVetoed   TransitionKind = "vetoed"
	TransitionNoop     TransitionKind = "noop"
)

// Transition is the outcome of a mutating region operation.
type Transition struct {
	Kind  TransitionKind `json:"kind"`
	Query string         `json:"query"`
	Seq   uint64         `json:"seq,omitempty"`
}

// QueryConfig describes the query behind a region. It is sent to the
// selection service for "select all" so that the server can enumerate every
// matching row.
type QueryConfig struct {
	RegionName      string            `json:"data_region_name"`
	SelectionKey    string            `json:"selection_key"`
	SchemaName      string            `json:"schema_name"`
	QueryName       string            `json:"query_name,omitempty"`
	SQL             string            `json:"sql,omitempty"`
	ViewName        string            `json:"view_name,omitempty"`
	Sort            string            `json:"sort,omitempty"`
	Filters         []Filter          `json:"filters,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	ContainerFilter string            `json:"container_filter,omitempty"`
}

// Content is a rendered region body returned by the content service.
type Content struct {
	HTML string `json:"html"`
}

// ColumnInfo describes one column of a query.
type ColumnInfo struct {
	Name      string `json:"name"`
	FieldKey  string `json:"field_key"`
	Caption   string `json:"caption,omitempty"`
	JSONType  string `json:"json_type,omitempty"`
	SQLType   string `json:"sql_type,omitempty"`
	MVEnabled bool   `json:"mv_enabled,omitempty"`
}

// ViewInfo describes one saved view of a query.
type ViewInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// QueryDetailsRequest identifies the query whose metadata is requested.
type QueryDetailsRequest struct {
	SchemaName string   `json:"schema_name"`
	QueryName  string   `json:"query_name"`
	ViewName   string   `json:"view_name,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}

// QueryDetails is query metadata returned by the query service.
type QueryDetails struct {
	Columns   []ColumnInfo `json:"columns"`
	Views     []ViewInfo   `json:"views"`
	Exception string       `json:"exception,omitempty"`
}

// Column returns the column with the given field key.
func (qd QueryDetails) Column(fieldKey string) (ColumnInfo, bool) {
	for _, c := range qd.Columns {
		if c.FieldKey == fieldKey || (c.FieldKey == "" && c.Name == fieldKey) {
			return c, true
		}
	}
	return ColumnInfo{}, false
}
