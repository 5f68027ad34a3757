package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/masterdata/locations"
	"github.com/botica-pos/botica/internal/masterdata/products"
	"github.com/botica-pos/botica/internal/observability"
	"github.com/botica-pos/botica/internal/returns"
	"github.com/botica-pos/botica/internal/transfer"
	"github.com/botica-pos/botica/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	InventoryHandler *inventory.Handler
	TransferHandler  *transfer.Handler
	ReturnsHandler   *returns.Handler
	ProductsHandler  *products.Handler
	LocationsHandler *locations.Handler
	JobHandler       *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Botica defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.InventoryHandler != nil {
		r.Route("/inventory", func(r chi.Router) {
			params.InventoryHandler.MountRoutes(r)
		})
	}
	if params.TransferHandler != nil {
		r.Route("/transfers", func(r chi.Router) {
			params.TransferHandler.MountRoutes(r)
		})
	}
	if params.ReturnsHandler != nil {
		r.Route("/returns", func(r chi.Router) {
			params.ReturnsHandler.MountRoutes(r)
		})
	}
	if params.ProductsHandler != nil {
		r.Route("/products", func(r chi.Router) {
			params.ProductsHandler.MountRoutes(r)
		})
	}
	if params.LocationsHandler != nil {
		r.Route("/locations", func(r chi.Router) {
			params.LocationsHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
