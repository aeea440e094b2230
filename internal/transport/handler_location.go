package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/dataregion/internal/params"
)

type locationResponse struct {
	Query   string   `json:"query"`
	Regions []string `json:"regions"`
}

func (a *api) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page")
	WriteJSON(w, http.StatusOK, locationResponse{
		Query:   a.registry.Location(pageID).Query(),
		Regions: nonNil(a.registry.Names(pageID)),
	})
}

// handlePutLocation replaces the page query string, as a browser
// navigation would. The query is normalised through the parameter codec.
func (a *api) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page")

	var req struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	loc := a.registry.Location(pageID)
	loc.Replace(params.Build(params.Parse(req.Query, nil)))
	WriteJSON(w, http.StatusOK, locationResponse{
		Query:   loc.Query(),
		Regions: nonNil(a.registry.Names(pageID)),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
