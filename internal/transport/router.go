package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/config"
	"github.com/pitabwire/dataregion/internal/metadata"
	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/internal/selection"
	"github.com/pitabwire/dataregion/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Registry  *region.Registry
	Selection model.SelectionService
	Metadata  *metadata.Cache
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	// Optional endpoint handlers. Nil handlers are not routed.
	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// api carries the dependencies shared by all handlers.
type api struct {
	cfg      *config.Config
	registry *region.Registry
	trackers *trackerSet
	metadata *metadata.Cache
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// request context middleware.
func NewRouter(deps Dependencies) chi.Router {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var rec selection.Recorder
	if deps.Metrics != nil {
		rec = deps.Metrics
	}

	a := &api{
		cfg:      cfg,
		registry: deps.Registry,
		trackers: newTrackerSet(deps.Selection, cfg.Regions.SelectionTimeout, logger, rec),
		metadata: deps.Metadata,
		logger:   logger,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	if deps.HealthHandler != nil {
		r.Method(http.MethodGet, "/health", deps.HealthHandler)
	}
	if deps.ReadyHandler != nil {
		r.Method(http.MethodGet, "/ready", deps.ReadyHandler)
	}
	if deps.MetricsHandler != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/queries/{schema}/{query}/details", a.handleQueryDetails)
	})

	r.Route("/pages/{page}", func(r chi.Router) {
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/location", a.handleGetLocation)
		r.Put("/location", a.handlePutLocation)
		r.Post("/regions", a.handleCreateRegion)

		r.Route("/regions/{region}", func(r chi.Router) {
			r.Use(withRegionName)

			r.Get("/", a.handleRegionState)
			r.Delete("/", a.handleDestroyRegion)

			r.Post("/offset", a.handleSetOffset)
			r.Post("/page-size", a.handleSetPageSize)
			r.Post("/show", a.handleSetShowMode)
			r.Post("/sort", a.handleChangeSort)
			r.Post("/sort/clear", a.handleClearSort)
			r.Post("/filters", a.handleAddFilter)
			r.Post("/filters/clear", a.handleClearFilters)
			r.Post("/view", a.handleChangeView)
			r.Post("/parameters", a.handleSetParameters)
			r.Post("/parameters/clear", a.handleClearParameters)
			r.Post("/refresh", a.handleRefresh)

			r.Get("/selection", a.handleSelectionSnapshot)
			r.Post("/selection/toggle", a.handleToggleRow)
			r.Post("/selection/page", a.handleSelectPage)
			r.Post("/selection/all", a.handleSelectAll)
			r.Post("/selection/clear", a.handleClearSelection)
			r.Post("/selection/page-rows", a.handleLoadPage)
		})
	})

	return r
}

// withRegionName adds the {region} route parameter to the request context
// built for the page.
func withRegionName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			next.ServeHTTP(w, r)
			return
		}
		withRegion := *rctx
		withRegion.RegionName = chi.URLParam(r, "region")
		ctx := model.WithRequestContext(r.Context(), &withRegion)
		ctx = observability.WithLogger(ctx, observability.LoggerFrom(ctx, zap.NewNop()).With(
			zap.String("region", withRegion.RegionName),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
