package transport

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/internal/sortfilter"
	"github.com/pitabwire/dataregion/model"
)

// regionResponse is the JSON view of one region.
type regionResponse struct {
	Name         string            `json:"name"`
	Phase        region.Phase      `json:"phase"`
	Async        bool              `json:"async"`
	SelectionKey string            `json:"selection_key"`
	Query        string            `json:"query"`
	State        model.RegionState `json:"state"`
	Content      *model.Content    `json:"content,omitempty"`
	RenderSeq    uint64            `json:"render_seq,omitempty"`
}

// transitionResponse is returned by every mutating region route.
type transitionResponse struct {
	Transition model.Transition `json:"transition"`
	Region     regionResponse   `json:"region"`
}

type createRegionRequest struct {
	Name            string            `json:"name"`
	SchemaName      string            `json:"schema_name"`
	QueryName       string            `json:"query_name"`
	SQL             string            `json:"sql"`
	ViewName        string            `json:"view_name"`
	ReportID        string            `json:"report_id"`
	SelectionKey    string            `json:"selection_key"`
	ContainerFilter string            `json:"container_filter"`
	Parameters      map[string]string `json:"parameters"`
	PageSize        int               `json:"page_size"`
	Async           *bool             `json:"async"`
}

func (a *api) handleCreateRegion(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page")

	var req createRegionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	async := a.cfg.Regions.Async
	if req.Async != nil {
		async = *req.Async
	}

	s, err := a.registry.Create(pageID, req.Name, region.Options{
		SchemaName:      req.SchemaName,
		QueryName:       req.QueryName,
		SQL:             req.SQL,
		ViewName:        req.ViewName,
		ReportID:        req.ReportID,
		SelectionKey:    req.SelectionKey,
		ContainerFilter: req.ContainerFilter,
		Parameters:      req.Parameters,
		PageSize:        req.PageSize,
		Async:           async,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := a.trackers.open(pageID, s); err != nil {
		a.registry.Destroy(pageID, s.Name())
		WriteError(w, r, err)
		return
	}
	a.updateRegionsActive()

	observability.LoggerFrom(r.Context(), a.logger).Info("region created",
		zap.String("region", s.Name()),
		zap.Bool("async", s.Async()),
	)
	WriteJSON(w, http.StatusCreated, describe(s))
}

func (a *api) handleDestroyRegion(w http.ResponseWriter, r *http.Request) {
	pageID, name := chi.URLParam(r, "page"), chi.URLParam(r, "region")

	if err := a.registry.Destroy(pageID, name); err != nil {
		WriteError(w, r, err)
		return
	}
	a.trackers.close(pageID, name)
	a.updateRegionsActive()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRegionState(w http.ResponseWriter, r *http.Request) {
	s, ok := a.store(w, r)
	if !ok {
		return
	}
	if !waitIfAsked(w, r, s.Wait) {
		return
	}
	WriteJSON(w, http.StatusOK, describe(s))
}

// --- paging ---

func (a *api) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset *int `json:"offset"`
	}
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.SetOffset(ctx, req.Offset)
	})
}

func (a *api) handleSetPageSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageSize int `json:"page_size"`
	}
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.SetPageSize(ctx, req.PageSize)
	})
}

func (a *api) handleSetShowMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode model.ShowMode `json:"mode"`
	}
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.SetShowMode(ctx, req.Mode)
	})
}

// --- sorting ---

type sortRequest struct {
	FieldKey  string `json:"field_key"`
	Direction string `json:"direction"`
}

func (a *api) handleChangeSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		dir, ok := sortfilter.ParseDirection(req.Direction)
		if !ok {
			return model.Transition{}, model.NewFieldValidationError("direction", "INVALID_DIRECTION",
				strconv.Quote(req.Direction)+" is not a valid sort direction")
		}
		return s.ChangeSort(ctx, req.FieldKey, dir)
	})
}

func (a *api) handleClearSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.ClearSort(ctx, req.FieldKey)
	})
}

// --- filtering ---

type filterRequest struct {
	FieldKey string  `json:"field_key"`
	Operator string  `json:"operator"`
	Value    *string `json:"value"`
	// Replace drops every other filter on the same field.
	Replace bool `json:"replace"`
}

func (a *api) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		if req.FieldKey == "" {
			return model.Transition{}, model.NewFieldValidationError("field_key", "REQUIRED", "field key is required")
		}
		col, err := a.column(ctx, s, req.FieldKey)
		if err != nil {
			return model.Transition{}, err
		}
		f := model.Filter{FieldKey: req.FieldKey, Operator: req.Operator}
		if req.Value != nil {
			f.Value, f.HasValue = *req.Value, true
		}
		if req.Replace {
			return s.ReplaceFilter(ctx, f, col)
		}
		return s.AddFilter(ctx, f, col)
	})
}

// handleClearFilters removes one filter, every filter on a field, or every
// filter of the region, depending on which of field_key and operator are
// given.
func (a *api) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		switch {
		case req.FieldKey == "":
			return s.ClearAllFilters(ctx)
		case req.Operator != "":
			return s.RemoveFilter(ctx, req.FieldKey, req.Operator)
		default:
			return s.ClearFilter(ctx, req.FieldKey)
		}
	})
}

// column resolves the metadata of fieldKey for filter validation. Regions
// over ad hoc SQL, or a router without metadata, validate as text.
func (a *api) column(ctx context.Context, s *region.Store, fieldKey string) (model.ColumnInfo, error) {
	qc := s.QueryConfig()
	if a.metadata == nil || qc.SchemaName == "" || qc.QueryName == "" {
		return model.ColumnInfo{Name: fieldKey, FieldKey: fieldKey}, nil
	}
	return a.metadata.Column(ctx, qc.SchemaName, qc.QueryName, fieldKey)
}

// --- views & parameters ---

type viewRequest struct {
	model.ViewSelector
	Overrides *model.ViewOverrides `json:"overrides"`
}

func (a *api) handleChangeView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.ChangeView(ctx, req.ViewSelector, req.Overrides)
	})
}

func (a *api) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parameters      map[string]string `json:"parameters"`
		ContainerFilter *string           `json:"container_filter"`
	}
	a.mutate(w, r, &req, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		if req.ContainerFilter == nil && len(req.Parameters) == 0 {
			return model.Transition{}, model.NewFieldValidationError("parameters", "REQUIRED",
				"parameters or container_filter is required")
		}
		if req.ContainerFilter != nil {
			t, err := s.SetContainerFilter(ctx, *req.ContainerFilter)
			if err != nil || len(req.Parameters) == 0 || t.Kind == model.TransitionVetoed {
				return t, err
			}
		}
		return s.SetParameters(ctx, req.Parameters)
	})
}

func (a *api) handleClearParameters(w http.ResponseWriter, r *http.Request) {
	a.mutate(w, r, nil, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.ClearAllParameters(ctx)
	})
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.mutate(w, r, nil, func(ctx context.Context, s *region.Store) (model.Transition, error) {
		return s.Refresh(ctx)
	})
}

// --- helpers ---

// mutate decodes the body into req (when non-nil), runs op on the addressed
// region, and writes the transition with the region's new state.
func (a *api) mutate(w http.ResponseWriter, r *http.Request, req any, op func(context.Context, *region.Store) (model.Transition, error)) {
	s, ok := a.store(w, r)
	if !ok {
		return
	}
	if req != nil {
		if err := decodeBody(r, req); err != nil {
			WriteError(w, r, err)
			return
		}
	}

	t, err := op(r.Context(), s)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if t.Kind == model.TransitionVetoed {
		observability.LoggerFrom(r.Context(), a.logger).Debug("mutation vetoed", zap.String("path", r.URL.Path))
		WriteError(w, r, model.NewVetoedError(path.Base(r.URL.Path)))
		return
	}
	if !waitIfAsked(w, r, s.Wait) {
		return
	}
	WriteJSON(w, http.StatusOK, transitionResponse{Transition: t, Region: describe(s)})
}

func (a *api) store(w http.ResponseWriter, r *http.Request) (*region.Store, bool) {
	s, err := a.registry.Get(chi.URLParam(r, "page"), chi.URLParam(r, "region"))
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return s, true
}

func (a *api) updateRegionsActive() {
	if a.metrics != nil {
		a.metrics.SetRegionsActive(float64(a.registry.Count()))
	}
}

// waitIfAsked blocks on wait when the request carries wait=true. It writes
// a timeout error and returns false when the request deadline passes first.
func waitIfAsked(w http.ResponseWriter, r *http.Request, wait func(context.Context) error) bool {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !ok {
		return true
	}
	if err := wait(r.Context()); err != nil {
		WriteError(w, r, model.NewBackendTimeoutError())
		return false
	}
	return true
}

func describe(s *region.Store) regionResponse {
	resp := regionResponse{
		Name:         s.Name(),
		Phase:        s.Phase(),
		Async:        s.Async(),
		SelectionKey: s.SelectionKey(),
		Query:        s.Query(),
		State:        s.State(),
	}
	if content, seq := s.Content(); seq > 0 {
		resp.Content = &content
		resp.RenderSeq = seq
	}
	return resp
}
