package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/model"
)

func TestClassicRegion_sortAndFilterNavigate(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", false))

	tv := h.Mutate("users", "qwp1", "sort", map[string]string{"field_key": "Name", "direction": "-"})
	if tv.Transition.Kind != model.TransitionNavigate {
		t.Errorf("kind = %q, want navigate", tv.Transition.Kind)
	}

	h.Mutate("users", "qwp1", "filters", map[string]any{"field_key": "Age", "operator": "gte", "value": "21"})
	h.Mutate("users", "qwp1", "filters", map[string]any{"field_key": "Name", "operator": "startswith", "value": "A"})

	if got, want := h.Location("users"), "qwp1.sort=-Name&qwp1.Age~gte=21&qwp1.Name~startswith=A"; got != want {
		t.Errorf("location = %q, want %q", got, want)
	}

	// Column metadata comes from the remote once and is cached.
	h.Remote().AssertCalled(t, OpGetQueryDetails, 1)
	req := h.Remote().LastRequest(OpGetQueryDetails)
	if req.Form.Get("schemaName") != "core" || req.Form.Get("queryName") != "Users" {
		t.Errorf("query details form = %v", req.Form)
	}

	// Classic regions never render through the remote.
	h.Remote().AssertNotCalled(t, OpGetWebPart)
}

func TestClassicRegion_invalidFilterValue(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", false))

	var ev ErrorView
	h.AssertJSON(t, h.POST("/pages/users/regions/qwp1/filters",
		map[string]any{"field_key": "Age", "operator": "eq", "value": "abc"}),
		http.StatusUnprocessableEntity, &ev)

	if ev.Error.Code != model.ErrValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", ev.Error.Code)
	}
	if len(ev.Error.Details) != 1 || ev.Error.Details[0].Field != "Age" {
		t.Errorf("details = %+v, want one entry for Age", ev.Error.Details)
	}
	if got := h.Location("users"); got != "" {
		t.Errorf("location = %q, want untouched", got)
	}
}

func TestClassicRegion_regionsShareLocation(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", false))
	h.CreateRegion("users", UsersRegion("qwp2", false))

	h.Mutate("users", "qwp1", "offset", map[string]int{"offset": 40})
	h.Mutate("users", "qwp2", "page-size", map[string]int{"page_size": 10})

	if got, want := h.Location("users"), "qwp1.offset=40&qwp2.maxRows=10"; got != want {
		t.Errorf("location = %q, want %q", got, want)
	}

	var rv RegionView
	h.AssertJSON(t, h.GET("/pages/users/regions/qwp1"), http.StatusOK, &rv)
	if rv.State.Offset != 40 || rv.State.PageSize != 20 {
		t.Errorf("qwp1 state = %+v, want offset 40 and default page size", rv.State)
	}

	// Clearing filters returns qwp1 to its first page and leaves qwp2 alone.
	h.Mutate("users", "qwp1", "filters/clear", map[string]any{})
	if got, want := h.Location("users"), "qwp2.maxRows=10"; got != want {
		t.Errorf("location = %q, want %q", got, want)
	}
}

func TestAsyncRegion_reloadsThroughRemote(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", true))

	tv := h.Mutate("users", "qwp1", "page-size?wait=true", map[string]int{"page_size": 50})
	if tv.Transition.Kind != model.TransitionReload {
		t.Fatalf("kind = %q, want reload", tv.Transition.Kind)
	}
	want := `<table data-region="qwp1" data-rows="50"></table>`
	if tv.Region.Content == nil || tv.Region.Content.HTML != want {
		t.Errorf("content = %+v, want %s", tv.Region.Content, want)
	}

	req := h.Remote().LastRequest(OpGetWebPart)
	checks := map[string]string{
		"dataRegionName": "qwp1",
		"schemaName":     "core",
		"queryName":      "Users",
		"webpart.name":   "Query",
		"qwp1.async":     "true",
		"qwp1.maxRows":   "50",
	}
	for k, v := range checks {
		if got := req.Form.Get(k); got != v {
			t.Errorf("web part form %s = %q, want %q", k, got, v)
		}
	}

	tv = h.Mutate("users", "qwp1", "filters?wait=true", map[string]any{"field_key": "Age", "operator": "gte", "value": "30"})
	req = h.Remote().LastRequest(OpGetWebPart)
	if diff := cmp.Diff([]string{"30"}, req.Form["qwp1.Age~gte"]); diff != "" {
		t.Errorf("filter param mismatch (-want +got):\n%s", diff)
	}
	if req.Form.Get("qwp1.maxRows") != "50" {
		t.Errorf("page size should persist in the live query, form = %v", req.Form)
	}
	if tv.Region.Query != "qwp1.maxRows=50&qwp1.Age~gte=30" {
		t.Errorf("live query = %q", tv.Region.Query)
	}

	// The page location is untouched by async regions.
	if got := h.Location("users"); got != "" {
		t.Errorf("location = %q, want empty", got)
	}
}

func TestAsyncRegion_independentRegions(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", true))
	h.CreateRegion("users", UsersRegion("qwp2", true))

	first := h.Mutate("users", "qwp1", "refresh?wait=true", nil)
	h.Mutate("users", "qwp2", "sort?wait=true", map[string]string{"field_key": "Name", "direction": "+"})

	var rv RegionView
	h.AssertJSON(t, h.GET("/pages/users/regions/qwp1"), http.StatusOK, &rv)
	if rv.RenderSeq != first.Region.RenderSeq {
		t.Errorf("qwp1 render seq = %d, want %d", rv.RenderSeq, first.Region.RenderSeq)
	}
	if rv.Query != "" {
		t.Errorf("qwp1 live query = %q, want empty", rv.Query)
	}

	h.AssertJSON(t, h.GET("/pages/users/regions/qwp2"), http.StatusOK, &rv)
	if diff := cmp.Diff([]model.SortEntry{{FieldKey: "Name", Direction: "+"}}, rv.State.Sort); diff != "" {
		t.Errorf("qwp2 sort mismatch (-want +got):\n%s", diff)
	}
}

func TestAsyncRegion_serverException(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", true))
	h.Remote().OnOperation(OpGetWebPart).RespondWithException("Unknown column Foo")

	tv := h.Mutate("users", "qwp1", "refresh?wait=true", nil)
	want := region.ErrorHTML("Unknown column Foo")
	if tv.Region.Content == nil || tv.Region.Content.HTML != want {
		t.Errorf("content = %+v, want %s", tv.Region.Content, want)
	}
}

func TestAsyncRegion_htmlBody(t *testing.T) {
	h := NewTestHarness(t)
	h.CreateRegion("users", UsersRegion("qwp1", true))
	h.Remote().OnOperation(OpGetWebPart).RespondWithHTML(http.StatusOK, "<div>rendered</div>")

	tv := h.Mutate("users", "qwp1", "refresh?wait=true", nil)
	if tv.Region.Content == nil || tv.Region.Content.HTML != "<div>rendered</div>" {
		t.Errorf("content = %+v", tv.Region.Content)
	}
}

func TestRegion_vetoedByHook(t *testing.T) {
	h := NewTestHarness(t, WithHook(func(_ context.Context, c region.Change) region.Decision {
		if c.Kind == region.ChangeFilter {
			return region.Veto
		}
		return region.Proceed
	}))
	h.CreateRegion("users", UsersRegion("qwp1", false))

	var ev ErrorView
	h.AssertJSON(t, h.POST("/pages/users/regions/qwp1/filters",
		map[string]any{"field_key": "Age", "operator": "gte", "value": "1"}),
		http.StatusConflict, &ev)
	if ev.Error.Code != model.ErrVetoed {
		t.Errorf("code = %q, want VETOED", ev.Error.Code)
	}

	// Other changes still proceed.
	h.Mutate("users", "qwp1", "offset", map[string]int{"offset": 20})
	if got := h.Location("users"); got != "qwp1.offset=20" {
		t.Errorf("location = %q", got)
	}
}

func TestHealthAndReady(t *testing.T) {
	h := NewTestHarness(t)

	h.AssertStatus(t, h.GET("/health"), http.StatusOK)

	var ready struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	h.AssertJSON(t, h.GET("/ready"), http.StatusOK, &ready)
	if ready.Status != "ready" {
		t.Errorf("status = %q, want ready", ready.Status)
	}
	for _, name := range []string{"registry", "remote", "selection_store"} {
		if ready.Checks[name]["status"] != "ok" {
			t.Errorf("check %s = %v, want ok", name, ready.Checks[name])
		}
	}
}
