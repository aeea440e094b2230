package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/dataregion/internal/selection"
	"github.com/pitabwire/dataregion/model"
)

func (a *api) handleSelectionSnapshot(w http.ResponseWriter, r *http.Request) {
	t, ok := a.tracker(w, r)
	if !ok {
		return
	}
	if !waitIfAsked(w, r, t.Wait) {
		return
	}
	WriteJSON(w, http.StatusOK, t.Snapshot())
}

func (a *api) handleToggleRow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Checked bool   `json:"checked"`
	}
	a.selectionOp(w, r, &req, func(ctx context.Context, t *selection.Tracker) error {
		return t.ToggleRow(ctx, req.ID, req.Checked)
	})
}

func (a *api) handleSelectPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Checked bool `json:"checked"`
	}
	a.selectionOp(w, r, &req, func(ctx context.Context, t *selection.Tracker) error {
		return t.SelectPage(ctx, req.Checked)
	})
}

func (a *api) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	a.selectionOp(w, r, nil, func(ctx context.Context, t *selection.Tracker) error {
		return t.SelectAll(ctx)
	})
}

func (a *api) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	a.selectionOp(w, r, nil, func(ctx context.Context, t *selection.Tracker) error {
		return t.ClearSelected(ctx)
	})
}

// handleLoadPage reports the rows the region rendered. A missing total
// means the row count is unknown. With sync=true the selection is then
// re-read from the selection service.
func (a *api) handleLoadPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows  []model.Row `json:"rows"`
		Total *int        `json:"total"`
		Sync  bool        `json:"sync"`
	}
	a.selectionOp(w, r, &req, func(ctx context.Context, t *selection.Tracker) error {
		total := -1
		if req.Total != nil {
			total = *req.Total
		}
		t.LoadPage(req.Rows, total)
		if req.Sync {
			return t.Sync(ctx)
		}
		return nil
	})
}

// --- helpers ---

// selectionOp decodes the body into req (when non-nil), runs op on the
// region's tracker and answers with the tracker snapshot. Requests to the
// selection service complete in the background; wait=true blocks until
// they have.
func (a *api) selectionOp(w http.ResponseWriter, r *http.Request, req any, op func(context.Context, *selection.Tracker) error) {
	t, ok := a.tracker(w, r)
	if !ok {
		return
	}
	if req != nil {
		if err := decodeBody(r, req); err != nil {
			WriteError(w, r, err)
			return
		}
	}
	if err := op(r.Context(), t); err != nil {
		WriteError(w, r, err)
		return
	}
	if !waitIfAsked(w, r, t.Wait) {
		return
	}
	WriteJSON(w, http.StatusOK, t.Snapshot())
}

func (a *api) tracker(w http.ResponseWriter, r *http.Request) (*selection.Tracker, bool) {
	pageID, name := chi.URLParam(r, "page"), chi.URLParam(r, "region")
	if _, err := a.registry.Get(pageID, name); err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	t, err := a.trackers.get(pageID, name)
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return t, true
}
