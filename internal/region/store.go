// Package region holds the parameter state of data regions. A Store owns one
// region; every mutation rewrites the region's parameters and then either
// navigates (the page location is rewritten) or reloads the region content
// asynchronously through a content service.
package region

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/params"
	"github.com/pitabwire/dataregion/internal/sortfilter"
	"github.com/pitabwire/dataregion/model"
)

// DefaultReloadTimeout bounds one asynchronous content reload.
const DefaultReloadTimeout = 30 * time.Second

// Phase is the lifecycle state of a Store.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseMutating   Phase = "mutating"
	PhaseReloading  Phase = "reloading"
	PhaseNavigating Phase = "navigating"
)

// Recorder receives region metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordRegionMutation(region, change, outcome string)
	RecordRegionReload(region, status string, duration time.Duration)
	RecordStaleResponse(component string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRegionMutation(string, string, string)       {}
func (nopRecorder) RecordRegionReload(string, string, time.Duration) {}
func (nopRecorder) RecordStaleResponse(string)                       {}

// Options configure a Store. Name is required; async stores also need a
// Content service and either QueryName or SQL.
type Options struct {
	Name            string
	SchemaName      string
	QueryName       string
	SQL             string
	ViewName        string
	ReportID        string
	SelectionKey    string
	ContainerFilter string
	Parameters      map[string]string

	// PageSize is the page size used when the location carries no maxRows.
	PageSize int

	Async         bool
	ReloadTimeout time.Duration

	Hook      Hook
	Content   model.ContentService
	Navigator Navigator

	// OnRender is called after each applied reload, outside the store lock.
	OnRender func(region string, content model.Content)

	Logger   *zap.Logger
	Recorder Recorder
}

func (o *Options) validate() error {
	var errs []string
	if o.Name == "" {
		errs = append(errs, "name is required")
	} else if strings.ContainsAny(o.Name, ".~&=?") {
		errs = append(errs, fmt.Sprintf("name %q must not contain any of . ~ & = ?", o.Name))
	}
	if o.PageSize < 0 {
		errs = append(errs, "page size must not be negative")
	}
	if o.Async {
		if o.Content == nil {
			errs = append(errs, "async regions need a content service")
		}
		if o.QueryName == "" && o.SQL == "" {
			errs = append(errs, "async regions need a query name or sql")
		}
	}
	if len(errs) > 0 {
		return model.NewBadRequestError(strings.Join(errs, "; "))
	}
	return nil
}

// Store holds the state of one region. All methods are safe for concurrent
// use; mutations are serialised.
type Store struct {
	opts   Options
	loc    *Location
	logger *zap.Logger
	rec    Recorder

	life context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	phase      Phase
	idle       chan struct{}
	live       string
	viewName   string
	reportID   string
	parameters map[string]string
	seq        uint64
	rendered   uint64
	content    model.Content
	destroyed  bool
}

// New creates a store for a region on the page whose query string is loc.
// An async store takes a private copy of the location as its live query.
func New(loc *Location, opts Options) (*Store, error) {
	if loc == nil {
		loc = NewLocation("")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}
	if opts.Hook == nil {
		opts.Hook = proceedAll
	}
	if opts.SelectionKey == "" {
		opts.SelectionKey = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	life, stop := context.WithCancel(context.Background())
	s := &Store{
		opts:     opts,
		loc:      loc,
		logger:   opts.Logger.With(zap.String("region", opts.Name)),
		rec:      opts.Recorder,
		life:     life,
		stop:     stop,
		phase:    PhaseIdle,
		viewName: opts.ViewName,
		reportID: opts.ReportID,
	}
	if opts.Async {
		s.live = loc.Query()
	}
	return s, nil
}

// Name returns the region name.
func (s *Store) Name() string { return s.opts.Name }

// SelectionKey returns the key of the region's server-side selection.
func (s *Store) SelectionKey() string { return s.opts.SelectionKey }

// Async reports whether the store reloads content instead of navigating.
func (s *Store) Async() bool { return s.opts.Async }

// --- paging ---

// SetOffset moves to the given row offset. A nil offset removes paging
// state. Either way the show mode returns to paginated.
func (s *Store) SetOffset(ctx context.Context, offset *int) (model.Transition, error) {
	c := Change{Kind: ChangeOffset, Skip: []string{params.Offset, params.ShowRows}}
	if offset != nil {
		if *offset < 0 {
			return model.Transition{}, model.NewFieldValidationError("offset", "INVALID_OFFSET",
				fmt.Sprintf("offset %d must not be negative", *offset))
		}
		c.Params = model.Pairs{model.P(params.Offset, strconv.Itoa(*offset))}
	}
	return s.mutate(ctx, fixed(c))
}

// ShowFirstPage sets the offset to zero.
func (s *Store) ShowFirstPage(ctx context.Context) (model.Transition, error) {
	zero := 0
	return s.SetOffset(ctx, &zero)
}

// SetPageSize sets the number of rows per page. Zero means unlimited. The
// offset and show mode are reset.
func (s *Store) SetPageSize(ctx context.Context, n int) (model.Transition, error) {
	if n < 0 {
		return model.Transition{}, model.NewFieldValidationError("page_size", "INVALID_PAGE_SIZE",
			fmt.Sprintf("page size %d must not be negative", n))
	}
	return s.mutate(ctx, fixed(Change{
		Kind:   ChangeMaxRows,
		Params: model.Pairs{model.P(params.MaxRows, strconv.Itoa(n))},
		Skip:   []string{params.Offset, params.MaxRows, params.ShowRows},
	}))
}

// SetShowMode switches which rows are shown. Paginated removes the show
// mode parameter and keeps paging; any other mode replaces paging.
func (s *Store) SetShowMode(ctx context.Context, mode model.ShowMode) (model.Transition, error) {
	if !mode.Valid() {
		return model.Transition{}, model.NewFieldValidationError("show_mode", "INVALID_SHOW_MODE",
			fmt.Sprintf("%q is not a valid show mode", mode))
	}
	if mode == model.ShowPaginated {
		return s.mutate(ctx, fixed(Change{Kind: ChangeShowRows, Skip: []string{params.ShowRows}}))
	}
	return s.mutate(ctx, fixed(Change{
		Kind:   ChangeShowRows,
		Params: model.Pairs{model.P(params.ShowRows, string(mode))},
		Skip:   []string{params.Offset, params.MaxRows, params.ShowRows},
	}))
}

// --- sorting ---

// ChangeSort makes fieldKey the primary sort in direction dir. Direction
// None removes the field from the sort. An empty fieldKey is a no-op.
func (s *Store) ChangeSort(ctx context.Context, fieldKey string, dir sortfilter.Direction) (model.Transition, error) {
	if fieldKey == "" {
		return s.noop(), nil
	}
	return s.mutate(ctx, func(current model.Pairs) Change {
		c := Change{Kind: ChangeSort, Skip: []string{params.Sort, params.Offset}}
		if spec := sortfilter.AlterSort(s.sortSpec(current), fieldKey, dir); spec != "" {
			c.Params = model.Pairs{model.P(params.Sort, spec)}
		}
		return c
	})
}

// ClearSort removes fieldKey from the sort. The sort parameter is dropped
// when nothing remains. An empty fieldKey is a no-op.
func (s *Store) ClearSort(ctx context.Context, fieldKey string) (model.Transition, error) {
	if fieldKey == "" {
		return s.noop(), nil
	}
	return s.mutate(ctx, func(current model.Pairs) Change {
		c := Change{Kind: ChangeClearSort, Skip: []string{params.Sort, params.Offset}}
		if spec := sortfilter.AlterSort(s.sortSpec(current), fieldKey, sortfilter.None); spec != "" {
			c.Params = model.Pairs{model.P(params.Sort, spec)}
		}
		return c
	})
}

// --- filtering ---

// ClearFilter removes every filter on fieldKey. An empty fieldKey is a
// no-op.
func (s *Store) ClearFilter(ctx context.Context, fieldKey string) (model.Transition, error) {
	if fieldKey == "" {
		return s.noop(), nil
	}
	return s.mutate(ctx, fixed(Change{
		Kind: ChangeClearFilter,
		Skip: []string{"." + fieldKey + params.FilterMarker, params.Offset},
	}))
}

// ClearAllFilters removes every filter of the region.
func (s *Store) ClearAllFilters(ctx context.Context) (model.Transition, error) {
	return s.mutate(ctx, fixed(Change{
		Kind: ChangeClearAllFilters,
		Skip: []string{params.AllFilters, params.Offset},
	}))
}

// ReplaceFilter validates f against col and replaces every filter on the
// same field with it. Invalid values return a validation error and leave
// the state untouched.
func (s *Store) ReplaceFilter(ctx context.Context, f model.Filter, col model.ColumnInfo) (model.Transition, error) {
	valid, err := sortfilter.ValidateFilter(f, col)
	if err != nil {
		return model.Transition{}, err
	}
	return s.mutate(ctx, fixed(Change{
		Kind:   ChangeFilter,
		Params: model.Pairs{sortfilter.FilterPair(s.opts.Name, valid)},
		Skip:   []string{params.Offset, "." + valid.FieldKey + params.FilterMarker},
	}))
}

// AddFilter validates f against col and adds it next to any existing
// filters on the same field.
func (s *Store) AddFilter(ctx context.Context, f model.Filter, col model.ColumnInfo) (model.Transition, error) {
	valid, err := sortfilter.ValidateFilter(f, col)
	if err != nil {
		return model.Transition{}, err
	}
	return s.mutate(ctx, fixed(Change{
		Kind:   ChangeFilter,
		Params: model.Pairs{sortfilter.FilterPair(s.opts.Name, valid)},
		Skip:   []string{params.Offset},
	}))
}

// RemoveFilter removes the filter on fieldKey with operator op. An empty
// op removes every filter on the field.
func (s *Store) RemoveFilter(ctx context.Context, fieldKey, op string) (model.Transition, error) {
	if fieldKey == "" {
		return s.noop(), nil
	}
	c := Change{Kind: ChangeClearFilter, Skip: []string{params.Offset}}
	if op == "" {
		c.Skip = append(c.Skip, "."+fieldKey+params.FilterMarker)
	} else {
		c.Drop = []string{"." + fieldKey + params.FilterMarker + op}
	}
	return s.mutate(ctx, fixed(c))
}

// --- views ---

// ChangeView switches to a saved view or report. When overrides is set,
// existing filters, sort, columns and container filter are replaced by it.
func (s *Store) ChangeView(ctx context.Context, sel model.ViewSelector, overrides *model.ViewOverrides) (model.Transition, error) {
	var (
		pairs            model.Pairs
		viewName, report string
	)
	switch sel.Kind {
	case model.ViewKindView, "":
		viewName = sel.Name
		if viewName != "" {
			pairs = append(pairs, model.P(params.ViewName, viewName))
		}
	case model.ViewKindReport:
		if sel.ReportID == "" {
			return model.Transition{}, model.NewFieldValidationError("report_id", "REQUIRED",
				"report id is required for a report view")
		}
		report = sel.ReportID
		pairs = append(pairs, model.P(params.ReportID, report))
	default:
		return model.Transition{}, model.NewFieldValidationError("kind", "INVALID_VIEW_KIND",
			fmt.Sprintf("%q is not a valid view kind", sel.Kind))
	}

	skip := []string{params.Offset, params.ShowRows, params.ViewName, params.ReportID}
	if overrides != nil {
		for _, f := range overrides.Filters {
			pairs = append(pairs, sortfilter.FilterPair(s.opts.Name, f))
		}
		if spec := sortfilter.FormatSort(overrides.Sort); spec != "" {
			pairs = append(pairs, model.P(params.Sort, spec))
		}
		if overrides.ContainerFilter != "" {
			pairs = append(pairs, model.P(params.ContainerFilterName, overrides.ContainerFilter))
		}
		skip = append(skip, params.AllFilters, params.Sort, params.Columns, params.ContainerFilterName)
	}

	c := Change{Kind: ChangeView, Params: pairs, Skip: skip}
	c.commit = func() {
		s.viewName = viewName
		s.reportID = report
	}
	return s.mutate(ctx, fixed(c))
}

// --- parameters ---

// SetParameters merges values into the region's query parameters and
// writes them as "<region>.param.<name>". Names may already carry the
// prefix. Parameters already in the query keep their position; new ones
// follow in name order.
func (s *Store) SetParameters(ctx context.Context, values map[string]string) (model.Transition, error) {
	prefix := s.opts.Name + params.Param

	bare := make(map[string]string, len(values))
	for name, v := range values {
		if len(name) > len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			name = name[len(prefix):]
		}
		bare[name] = v
	}

	return s.mutate(ctx, func(current model.Pairs) Change {
		merged := make(map[string]string, len(bare))
		pairs := make(model.Pairs, 0, len(bare))
		for _, p := range current {
			if len(p.Key) <= len(prefix) || !strings.EqualFold(p.Key[:len(prefix)], prefix) {
				continue
			}
			name := p.Key[len(prefix):]
			v, ok := bare[name]
			if !ok {
				v = p.Value
			}
			merged[name] = v
			pairs = append(pairs, model.P(prefix+name, v))
		}
		for _, name := range slices.Sorted(maps.Keys(bare)) {
			if _, ok := merged[name]; ok {
				continue
			}
			merged[name] = bare[name]
			pairs = append(pairs, model.P(prefix+name, bare[name]))
		}

		c := Change{Kind: ChangeParameters, Params: pairs, Skip: []string{params.Param, params.Offset}}
		c.commit = func() {
			if s.parameters == nil {
				s.parameters = make(map[string]string, len(merged))
			}
			maps.Copy(s.parameters, merged)
		}
		return c
	})
}

// ClearAllParameters removes every query parameter of the region.
func (s *Store) ClearAllParameters(ctx context.Context) (model.Transition, error) {
	c := Change{Kind: ChangeClearParameters, Skip: []string{params.Param, params.Offset}}
	c.commit = func() { s.parameters = nil }
	return s.mutate(ctx, fixed(c))
}

// SetContainerFilter sets the container filter by name. An empty name
// removes the user container filter.
func (s *Store) SetContainerFilter(ctx context.Context, name string) (model.Transition, error) {
	c := Change{Kind: ChangeContainerFilter, Skip: []string{params.ContainerFilterName, params.Offset}}
	if name != "" {
		c.Params = model.Pairs{model.P(params.ContainerFilterName, name)}
	}
	return s.mutate(ctx, fixed(c))
}

// Refresh reloads the region with unchanged parameters, or navigates to the
// current location in classic mode.
func (s *Store) Refresh(ctx context.Context) (model.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return model.Transition{}, s.gone()
	}
	if s.opts.Hook(ctx, Change{Kind: ChangeRefresh, Region: s.opts.Name}) == Veto {
		s.rec.RecordRegionMutation(s.opts.Name, string(ChangeRefresh), string(model.TransitionVetoed))
		return model.Transition{Kind: model.TransitionVetoed, Query: s.sourceLocked()}, nil
	}

	var t model.Transition
	if s.opts.Async {
		t = s.reloadLocked(ctx, params.Parse(s.live, nil))
	} else {
		t = s.navigateLocked(ctx, func(current string) string { return current })
	}
	s.rec.RecordRegionMutation(s.opts.Name, string(ChangeRefresh), string(t.Kind))
	return t, nil
}

// --- readers ---

// State decodes the region's current display state.
func (s *Store) State() model.RegionState {
	s.mu.Lock()
	src := s.sourceLocked()
	viewName, reportID := s.viewName, s.reportID
	s.mu.Unlock()

	name := s.opts.Name
	pairs := params.Parse(src, nil)
	st := model.RegionState{
		Name:                name,
		PageSize:            s.opts.PageSize,
		ShowMode:            model.ShowPaginated,
		Sort:                sortfilter.ParseSort(s.sortSpec(pairs)),
		Filters:             sortfilter.FiltersOf(pairs, name),
		ViewName:            viewName,
		ReportID:            reportID,
		ContainerFilterName: s.opts.ContainerFilter,
		Parameters:          s.Parameters(),
	}

	if v, ok := pairs.Get(name + params.ShowRows); ok && v != "" {
		st.ShowMode = model.ShowMode(v)
	}
	if st.ShowMode == model.ShowPaginated {
		if v, ok := pairs.Get(name + params.Offset); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				st.Offset = n
			}
		}
	}
	if v, ok := pairs.Get(name + params.MaxRows); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			st.PageSize = n
		}
	}
	if v, ok := pairs.Get(name + params.ViewName); ok {
		st.ViewName = v
	}
	if v, ok := pairs.Get(name + params.ReportID); ok {
		st.ReportID = v
	}
	if v, ok := pairs.Get(name + params.ContainerFilterName); ok && v != "" {
		st.ContainerFilterName = v
	}
	return st
}

// UserSort returns the sort from the current parameters.
func (s *Store) UserSort() []model.SortEntry {
	return sortfilter.ParseSort(s.sortSpec(s.currentPairs()))
}

// UserFilters returns the filters from the current parameters.
func (s *Store) UserFilters() []model.Filter {
	return sortfilter.FiltersOf(s.currentPairs(), s.opts.Name)
}

// Parameters returns the region's query parameters by bare name. Values
// from the current parameters override configured and previously set ones.
func (s *Store) Parameters() map[string]string {
	s.mu.Lock()
	out := make(map[string]string, len(s.opts.Parameters)+len(s.parameters))
	maps.Copy(out, s.opts.Parameters)
	maps.Copy(out, s.parameters)
	src := s.sourceLocked()
	s.mu.Unlock()

	prefix := s.opts.Name + params.Param
	for _, p := range params.Parse(src, nil) {
		if len(p.Key) > len(prefix) && strings.EqualFold(p.Key[:len(prefix)], prefix) {
			out[p.Key[len(prefix):]] = p.Value
		}
	}
	return out
}

// Parameter returns the value of the first current parameter named key.
// Valueless parameters report an empty string.
func (s *Store) Parameter(key string) (string, bool) {
	return s.currentPairs().Get(key)
}

// ShowMode returns the current show mode.
func (s *Store) ShowMode() model.ShowMode {
	return s.State().ShowMode
}

// QueryConfig describes the query behind the region as currently filtered.
func (s *Store) QueryConfig() model.QueryConfig {
	st := s.State()
	return model.QueryConfig{
		RegionName:      s.opts.Name,
		SelectionKey:    s.opts.SelectionKey,
		SchemaName:      s.opts.SchemaName,
		QueryName:       s.opts.QueryName,
		SQL:             s.opts.SQL,
		ViewName:        st.ViewName,
		Sort:            sortfilter.FormatSort(st.Sort),
		Filters:         st.Filters,
		Parameters:      st.Parameters,
		ContainerFilter: st.ContainerFilterName,
	}
}

// Query returns the parameters the region currently reads from: the page
// location, or the live query of an async region.
func (s *Store) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceLocked()
}

// Phase returns the lifecycle phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Content returns the most recently rendered content and the sequence
// number of the reload that produced it.
func (s *Store) Content() (model.Content, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.rendered
}

// Wait blocks until the store is idle or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.idle
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// destroy stops in-flight reloads and marks the store unusable.
func (s *Store) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.stop()
	s.setIdleLocked()
}

// --- core ---

// fixed wraps a change that does not depend on the current parameters.
func fixed(c Change) func(model.Pairs) Change {
	return func(model.Pairs) Change { return c }
}

// mutate runs one mutation: the change is built from the current pairs,
// offered to the hook, and dispatched. The hook runs with the store locked
// and must not call back into the store.
func (s *Store) mutate(ctx context.Context, build func(current model.Pairs) Change) (_ model.Transition, err error) {
	ctx, span := observability.StartSpan(ctx, "region.mutate", observability.AttrRegion.String(s.opts.Name))
	if rc := model.RequestContextFrom(ctx); rc != nil {
		span.SetAttributes(
			observability.AttrSessionID.String(rc.SessionID),
			observability.AttrPageID.String(rc.PageID),
		)
	}
	defer func() { observability.EndSpanWithError(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return model.Transition{}, s.gone()
	}

	c := build(params.Parse(s.sourceLocked(), nil))
	c.Region = s.opts.Name
	span.SetAttributes(observability.AttrChange.String(string(c.Kind)))
	if s.opts.Hook(ctx, c) == Veto {
		s.logger.Debug("region change vetoed", zap.String("change", string(c.Kind)))
		s.rec.RecordRegionMutation(s.opts.Name, string(c.Kind), string(model.TransitionVetoed))
		return model.Transition{Kind: model.TransitionVetoed, Query: s.sourceLocked()}, nil
	}
	if c.commit != nil {
		c.commit()
	}

	s.phase = PhaseMutating
	skip := params.Scope(s.opts.Name, c.Skip...)
	drop := params.Scope(s.opts.Name, c.Drop...)
	added := s.scoped(c.Params)

	var t model.Transition
	if s.opts.Async {
		pairs := append(without(params.Parse(s.live, skip), drop), added...)
		t = s.reloadLocked(ctx, pairs)
	} else {
		t = s.navigateLocked(ctx, func(current string) string {
			return params.Build(append(without(params.Parse(current, skip), drop), added...))
		})
	}

	s.logger.Debug("region changed",
		zap.String("change", string(c.Kind)),
		zap.String("transition", string(t.Kind)),
		zap.String("query", t.Query),
	)
	s.rec.RecordRegionMutation(s.opts.Name, string(c.Kind), string(t.Kind))
	return t, nil
}

// without removes pairs whose key is exactly one of keys.
func without(pairs model.Pairs, keys []string) model.Pairs {
	if len(keys) == 0 {
		return pairs
	}
	return slices.DeleteFunc(pairs, func(p model.Pair) bool {
		return slices.Contains(keys, p.Key)
	})
}

// navigateLocked rewrites the page location and tells the navigator.
func (s *Store) navigateLocked(ctx context.Context, rewrite func(string) string) model.Transition {
	s.phase = PhaseNavigating
	query := s.loc.Update(rewrite)
	if s.opts.Navigator != nil {
		s.opts.Navigator.Navigate(ctx, s.opts.Name, query)
	}
	if s.idle == nil {
		s.phase = PhaseIdle
	} else {
		s.phase = PhaseReloading
	}
	return model.Transition{Kind: model.TransitionNavigate, Query: query}
}

// scoped prefixes every key not already starting with the region name.
// Keys of one character or less are dropped.
func (s *Store) scoped(pairs model.Pairs) model.Pairs {
	out := make(model.Pairs, 0, len(pairs))
	for _, p := range pairs {
		if len(p.Key) <= 1 {
			continue
		}
		if !strings.HasPrefix(p.Key, s.opts.Name) {
			p.Key = s.opts.Name + p.Key
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) sourceLocked() string {
	if s.opts.Async {
		return s.live
	}
	return s.loc.Query()
}

func (s *Store) currentPairs() model.Pairs {
	s.mu.Lock()
	src := s.sourceLocked()
	s.mu.Unlock()
	return params.Parse(src, nil)
}

func (s *Store) sortSpec(pairs model.Pairs) string {
	v, _ := pairs.Get(s.opts.Name + params.Sort)
	return v
}

func (s *Store) noop() model.Transition {
	return model.Transition{Kind: model.TransitionNoop, Query: s.Query()}
}

func (s *Store) gone() error {
	return model.NewNotFoundError(fmt.Sprintf("region %q has been destroyed", s.opts.Name))
}
