package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printbound/printbound-backend/api/controllers"
	issuecontrollers "github.com/printbound/printbound-backend/api/controllers/issues"
	resolutioncontrollers "github.com/printbound/printbound-backend/api/controllers/resolutions"
	"github.com/printbound/printbound-backend/api/middleware"
	"github.com/printbound/printbound-backend/internal/issues"
	"github.com/printbound/printbound-backend/internal/resolutions"
	"github.com/printbound/printbound-backend/pkg/config"
	"github.com/printbound/printbound-backend/pkg/db"
	"github.com/printbound/printbound-backend/pkg/enums"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       *redis.Client
	Issues      issues.Service
	Resolutions resolutions.Service
	Metrics     *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var redisP redis.Pinger
	var idemStore redis.IdempotencyStore
	if deps.Redis != nil {
		redisP = deps.Redis
		idemStore = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisP))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.ActorRoleCustomer), logg))
			r.Get("/ping", controllers.PrivatePing())
			r.Route("/issues", func(r chi.Router) {
				r.Post("/", issuecontrollers.Create(deps.Issues, logg))
				r.Get("/", issuecontrollers.List(deps.Issues, logg))
				r.Get("/{issueId}", issuecontrollers.Detail(deps.Issues, logg))
				r.Delete("/{issueId}", issuecontrollers.Withdraw(deps.Issues, logg))
				r.Post("/{issueId}/messages", issuecontrollers.PostMessage(deps.Issues, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))
			r.Get("/ping", controllers.AdminPing())
			r.Route("/issues", func(r chi.Router) {
				r.Get("/", issuecontrollers.Queue(deps.Issues, logg))
				r.Get("/{issueId}", issuecontrollers.Detail(deps.Issues, logg))
				r.Post("/{issueId}/messages", issuecontrollers.PostMessage(deps.Issues, logg))
				r.Post("/{issueId}/request-info", issuecontrollers.RequestInfo(deps.Issues, logg))
				r.Post("/{issueId}/approve", issuecontrollers.Approve(deps.Issues, logg))
				r.Post("/{issueId}/close", issuecontrollers.Close(deps.Issues, logg))
				r.Post("/{issueId}/process", issuecontrollers.Process(deps.Issues, logg))
			})
			r.Route("/resolutions", func(r chi.Router) {
				r.Post("/", resolutioncontrollers.Create(deps.Resolutions, logg))
				r.Post("/{resolutionId}/process", resolutioncontrollers.Process(deps.Resolutions, logg))
			})
			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/resolutions", resolutioncontrollers.ListForOrder(deps.Resolutions, logg))
				r.Post("/cancellation-review", resolutioncontrollers.CancellationReview(deps.Resolutions, logg))
			})
		})
	})

	return r
}
