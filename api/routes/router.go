package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avolkov/stockroom-backend/api/controllers"
	"github.com/avolkov/stockroom-backend/api/middleware"
	"github.com/avolkov/stockroom-backend/internal/imports"
	"github.com/avolkov/stockroom-backend/internal/stock"
	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/logger"
	"github.com/avolkov/stockroom-backend/pkg/redis"
)

type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      db.Pinger
	RedisPinger   redis.Pinger
	ImportService imports.Service
	StockService  stock.Service
	Gatherer      prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.RedisPinger))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/ping", controllers.Ping())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Get("/", controllers.ImportHistory(p.ImportService, logg))
			r.Post("/preview", controllers.ImportPreview(p.ImportService, cfg.Imports, logg))
			r.Post("/commit", controllers.ImportCommit(p.ImportService, logg))
			r.Post("/cancel", controllers.ImportCancel(p.ImportService, logg))
			r.Post("/revert", controllers.ImportRevert(p.ImportService, logg))
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/{article}", controllers.StockBalances(p.StockService, logg))
			r.Post("/adjust", controllers.StockAdjust(p.StockService, logg))
			r.Post("/move", controllers.StockMove(p.StockService, logg))
			r.Post("/set", controllers.StockSet(p.StockService, logg))
			r.Post("/adjust-hub", controllers.StockAdjustHub(p.StockService, logg))
		})
	})

	return r
}
