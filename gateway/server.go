// Package gateway exposes the draft composer over HTTP. It is a thin
// translation layer: every rule lives in the draft package, the gateway only
// decodes requests, applies them to a session and renders snapshots.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"condor/balances"
	"condor/draft"
	"condor/gateway/idem"
	"condor/gateway/middleware"
	"condor/observability"
	"condor/prices"
	"condor/registry"
	"condor/storage"
	"condor/submit"
	"condor/txmon"
)

// Config carries the HTTP-facing settings.
type Config struct {
	Auth          middleware.AuthConfig
	CORS          middleware.CORSConfig
	RateLimits    map[string]middleware.RateLimit
	Observability middleware.ObservabilityConfig
	// SubmitTimeout bounds one order-engine call from the gateway side.
	SubmitTimeout time.Duration
}

// Server wires the domain services behind the REST surface.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.CoreMetrics
	composer *draft.Composer
	registry *registry.Registry
	prices   *prices.Cache
	balances *balances.Service
	client   *submit.Client
	monitor  *txmon.Monitor
	store    *storage.Store
	idem     *idem.Store

	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
}

// Deps enumerates the collaborators a server needs. Store, monitor and the
// idempotency store may be nil; the corresponding endpoints degrade.
type Deps struct {
	Composer *draft.Composer
	Registry *registry.Registry
	Prices   *prices.Cache
	Balances *balances.Service
	Client   *submit.Client
	Monitor  *txmon.Monitor
	Store    *storage.Store
	Idem     *idem.Store
	Metrics  *observability.CoreMetrics
	Logger   *slog.Logger
}

// NewServer validates dependencies and builds the middleware stack.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Composer == nil {
		return nil, fmt.Errorf("composer required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("price cache required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.Core()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	obs := middleware.NewObservability(cfg.Observability, deps.Logger)
	// Core series are incremented by the handlers; they must land on the
	// registry /metrics serves or a scrape never sees them.
	obs.Register(deps.Metrics.Collectors()...)
	return &Server{
		cfg:      cfg,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		composer: deps.Composer,
		registry: deps.Registry,
		prices:   deps.Prices,
		balances: deps.Balances,
		client:   deps.Client,
		monitor:  deps.Monitor,
		store:    deps.Store,
		idem:     deps.Idem,
		auth:     middleware.NewAuthenticator(cfg.Auth, deps.Logger),
		limiter:  middleware.NewRateLimiter(cfg.RateLimits, deps.Logger),
		obs:      obs,
	}, nil
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.cfg.CORS))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.obs.Middleware("tokens")).Get("/tokens", s.handleTokens)
		r.With(s.obs.Middleware("prices"), s.limiter.Middleware("quotes")).Get("/prices", s.handlePrices)
		r.With(s.limiter.Middleware("quotes")).Get("/prices/stream", s.handlePriceStream)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware())

			r.With(s.obs.Middleware("balances")).Route("/balances/{wallet}", func(r chi.Router) {
				r.Get("/", s.handleBalances)
				r.Post("/refresh", s.handleBalanceRefresh)
			})

			r.With(s.obs.Middleware("transactions")).Route("/transactions", func(r chi.Router) {
				r.Get("/", s.handleTransactionsList)
				r.Post("/", s.handleTransactionTrack)
			})

			r.With(s.obs.Middleware("submissions")).Get("/submissions", s.handleSubmissionsList)

			r.With(s.obs.Middleware("drafts")).Route("/drafts", func(r chi.Router) {
				r.Post("/", s.handleDraftCreate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleDraftGet)
					r.Patch("/", s.handleDraftPatch)
					r.Delete("/", s.handleDraftDelete)
					r.Post("/advance", s.handleDraftAdvance)
					r.Post("/back", s.handleDraftBack)
					r.Post("/wallet", s.handleDraftWallet)
					r.Post("/reset", s.handleDraftReset)
					r.With(s.limiter.Middleware("submit")).Post("/submit", s.handleDraftSubmit)
				})
			})
		})
	})
	return r
}
