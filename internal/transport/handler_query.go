package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/dataregion/model"
)

// handleQueryDetails returns the columns and views of a query. Optional
// query parameters: view, and fields as a comma-separated list.
func (a *api) handleQueryDetails(w http.ResponseWriter, r *http.Request) {
	if a.metadata == nil {
		WriteError(w, r, model.NewNotFoundError("query metadata is not configured"))
		return
	}

	req := model.QueryDetailsRequest{
		SchemaName: chi.URLParam(r, "schema"),
		QueryName:  chi.URLParam(r, "query"),
		ViewName:   r.URL.Query().Get("view"),
	}
	if fields := r.URL.Query().Get("fields"); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.Fields = append(req.Fields, f)
			}
		}
	}

	details, err := a.metadata.GetQueryDetails(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}
