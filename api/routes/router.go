package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapdine/tapdine-backend/api/controllers"
	"github.com/tapdine/tapdine-backend/api/middleware"
	"github.com/tapdine/tapdine-backend/internal/availability"
	cartsvc "github.com/tapdine/tapdine-backend/internal/cart"
	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/internal/fulfillment"
	ordersvc "github.com/tapdine/tapdine-backend/internal/orders"
	"github.com/tapdine/tapdine-backend/internal/session"
	"github.com/tapdine/tapdine-backend/pkg/config"
	"github.com/tapdine/tapdine-backend/pkg/logger"
	pkgredis "github.com/tapdine/tapdine-backend/pkg/redis"
)

type pinger interface {
	Ping(context.Context) error
}

// Deps carries everything the router wires into controllers. AppCtx is the
// process-lifetime context used for work that outlives a request, like the
// fulfillment and availability pollers.
type Deps struct {
	Cfg      *config.Config
	Logg     *logger.Logger
	AppCtx   context.Context
	DB       pinger
	Redis    *pkgredis.Client
	Sessions *session.Store
	Commerce *commerce.Client
	Carts    cartsvc.Service
	Orders   ordersvc.Service
	Tracker  fulfillment.Service
	Guard    availability.Service
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	logg := deps.Logg
	appCtx := deps.AppCtx
	if appCtx == nil {
		appCtx = context.Background()
	}

	var idemStore pkgredis.IdempotencyStore
	if deps.Redis != nil {
		idemStore = deps.Redis
	}

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Idempotency(idemStore, logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Cfg))
		r.Get("/ready", controllers.HealthReady(deps.Cfg, logg, deps.DB, deps.Redis))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", controllers.SessionGet(deps.Sessions, logg))
			r.Put("/shop", controllers.SessionSetShop(deps.Sessions, deps.Guard, appCtx, logg))
			r.Post("/auth", controllers.SessionLogin(deps.Sessions, deps.Carts, logg))
			r.Delete("/auth", controllers.SessionLogout(deps.Sessions, logg))
		})

		r.Route("/shops/{shopID}", func(r chi.Router) {
			r.Get("/", controllers.ShopGet(deps.Commerce, logg))
			r.Get("/menu", controllers.ShopMenu(deps.Commerce, logg))
			r.Get("/availability/events", controllers.ShopAvailabilityEvents(deps.Guard, appCtx, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(deps.Carts, deps.Sessions, logg))
			r.Delete("/", controllers.CartClear(deps.Carts, deps.Sessions, logg))
			r.Post("/lines", controllers.CartAddLine(deps.Carts, deps.Sessions, logg))
			r.Patch("/lines/{lineID}", controllers.CartUpdateLine(deps.Carts, deps.Sessions, logg))
			r.Delete("/lines/{lineID}", controllers.CartRemoveLine(deps.Carts, deps.Sessions, logg))
			r.Post("/sync", controllers.CartSync(deps.Carts, deps.Sessions, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrdersPlace(deps.Orders, deps.Sessions, deps.Tracker, appCtx, logg))
			r.Get("/", controllers.OrdersList(deps.Orders, deps.Sessions, logg))
			r.Get("/{orderID}", controllers.OrdersGet(deps.Orders, deps.Sessions, logg))
			r.Get("/{orderID}/events", controllers.OrderEvents(deps.Orders, deps.Sessions, deps.Tracker, appCtx, logg))
		})
	})

	return r
}
