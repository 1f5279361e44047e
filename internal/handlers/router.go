package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kartline/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts one group of routes.
type RouteRegistrar func(r chi.Router)

type middlewareChain []func(http.Handler) http.Handler

func (c middlewareChain) plus(more middlewareChain) middlewareChain {
	out := make(middlewareChain, 0, len(c)+len(more))
	return append(append(out, c...), more...)
}

type routerConfig struct {
	global middlewareChain
	health *HealthHandlers

	auth      middlewareChain
	protected middlewareChain
	admin     middlewareChain
	internal  middlewareChain

	cartRoutes     RouteRegistrar
	orderRoutes    RouteRegistrar
	adminRoutes    RouteRegistrar
	internalRoutes RouteRegistrar
}

// Option configures NewRouter.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface. Health probes sit at the root without auth. Under /api/v1,
// /cart and /orders run the auth chain then the protected chain (rate limit, idempotency), /admin
// adds the admin role check, and /internal runs only its own service-token chain. Groups without a
// registrar are not mounted.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	shopper := cfg.auth.plus(cfg.protected)
	r.Route(apiPrefix, func(api chi.Router) {
		mountGroup(api, "/cart", shopper, cfg.cartRoutes)
		mountGroup(api, "/orders", shopper, cfg.orderRoutes)
		mountGroup(api, "/admin", shopper.plus(cfg.admin), cfg.adminRoutes)
		mountGroup(api, "/internal", cfg.internal, cfg.internalRoutes)
	})
	return r
}

func mountGroup(api chi.Router, path string, chain middlewareChain, registrar RouteRegistrar) {
	if registrar == nil {
		return
	}
	api.Route(path, func(group chi.Router) {
		for _, mw := range chain {
			if mw != nil {
				group.Use(mw)
			}
		}
		registrar(group)
	})
}

// WithMiddlewares adds global middleware after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithAuthMiddleware sets the end-user authentication that runs first on /cart, /orders and /admin.
func WithAuthMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.auth = append(cfg.auth, mw...) }
}

// WithProtectedMiddlewares adds middleware that runs after authentication, so it can key on the caller.
func WithProtectedMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.protected = append(cfg.protected, mw...) }
}

func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.admin = append(cfg.admin, mw...) }
}

func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.internal = append(cfg.internal, mw...) }
}

func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.cartRoutes = reg }
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.orderRoutes = reg }
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.adminRoutes = reg }
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internalRoutes = reg }
}
