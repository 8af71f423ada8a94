package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tylern4/balsam/internal/apps"
	"github.com/tylern4/balsam/internal/batchjobs"
	"github.com/tylern4/balsam/internal/bulk"
	"github.com/tylern4/balsam/internal/events"
	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/internal/metrics"
	"github.com/tylern4/balsam/internal/notify"
	"github.com/tylern4/balsam/internal/sessions"
	"github.com/tylern4/balsam/internal/sites"
	"github.com/tylern4/balsam/internal/transferitems"
	"github.com/tylern4/balsam/pkg/logger"
)

// Deps wires every repository and service the router's handlers need.
// Constructed once in cmd/balsamserver and passed to NewRouter.
type Deps struct {
	Sites         *sites.Repository
	Apps          *apps.Repository
	BatchJobs     *batchjobs.Repository
	Jobs          *jobs.Repository
	Sessions      *sessions.Repository
	Events        *events.Repository
	Transfers     *transferitems.Repository
	Bulk          *bulk.Service
	Bus           *notify.Bus
	Logger        *logger.Logger
	OwnerResolver OwnerResolver
}

// NewRouter builds the gorilla/mux router serving every spec §6 resource
// path under /api/v1, grouped exactly the way
// cmd/gateway/main.go.registerRoutes groups its own resources: a
// top-level health route and /metrics outside the API prefix, then a single
// /api/v1 subrouter carrying the owner middleware, on which every resource
// registers its routes.
func NewRouter(d Deps) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(d.Logger))
	router.Use(recoveryMiddleware(d.Logger))

	router.HandleFunc("/health", healthHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler(d.Bus)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(ownerMiddleware(d.OwnerResolver))

	registerSiteRoutes(api, d)
	registerAppRoutes(api, d)
	registerBatchJobRoutes(api, d)
	registerJobRoutes(api, d)
	registerEventRoutes(api, d)
	registerSessionRoutes(api, d)
	registerTransferRoutes(api, d)

	return router
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// metricsHandler serves the Prometheus text exposition format, syncing
// metrics.NotifyDropped from the live bus immediately beforehand so the
// scrape always reflects the current dropped-event count.
func metricsHandler(bus *notify.Bus) http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bus != nil {
			metrics.NotifyDropped.Set(float64(bus.Dropped()))
		}
		h.ServeHTTP(w, r)
	})
}
