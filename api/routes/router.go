package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arjunmehta-dev/threadmart-backend/api/controllers"
	"github.com/arjunmehta-dev/threadmart-backend/api/middleware"
	cartsvc "github.com/arjunmehta-dev/threadmart-backend/internal/cart"
	catalogsvc "github.com/arjunmehta-dev/threadmart-backend/internal/catalog"
	inventorysvc "github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	notifsvc "github.com/arjunmehta-dev/threadmart-backend/internal/notifications"
	ordersvc "github.com/arjunmehta-dev/threadmart-backend/internal/orders"
	paymentsvc "github.com/arjunmehta-dev/threadmart-backend/internal/payments"
	usersvc "github.com/arjunmehta-dev/threadmart-backend/internal/users"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. The router stays a pure
// function of its dependencies so tests can stand one up with fakes.
type Deps struct {
	Cfg           *config.Config
	Logg          *logger.Logger
	DBPinger      db.Pinger
	RedisClient   *redis.Client
	Catalog       catalogsvc.Service
	Inventory     *inventorysvc.Service
	Cart          cartsvc.Service
	Users         usersvc.Service
	Orders        ordersvc.Service
	Payments      paymentsvc.Service
	Notifications notifsvc.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Cfg, deps.Logg

	// A typed nil *redis.Client must stay a nil interface so downstream
	// nil checks in the health and idempotency handlers hold.
	var cachePinger redis.Pinger
	var idemStore redis.IdempotencyStore
	if deps.RedisClient != nil {
		cachePinger = deps.RedisClient
		idemStore = deps.RedisClient
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DBPinger, cachePinger))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public browse surface, no credentials required.
	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ProductsList(deps.Catalog, logg))
		r.Get("/{productId}", controllers.ProductGet(deps.Catalog, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", controllers.Me(deps.Users, logg))
			r.Route("/addresses", func(r chi.Router) {
				r.Get("/", controllers.AddressesList(deps.Users, logg))
				r.Post("/", controllers.AddressAdd(deps.Users, logg))
				r.Post("/{addressId}/default", controllers.AddressSetDefault(deps.Users, logg))
				r.Delete("/{addressId}", controllers.AddressRemove(deps.Users, logg))
			})
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(deps.Cart, logg))
			r.Post("/add", controllers.CartAdd(deps.Cart, logg))
			r.Put("/", controllers.CartUpdate(deps.Cart, logg))
			r.Delete("/clear", controllers.CartClear(deps.Cart, logg))
			r.Delete("/{productId}", controllers.CartRemove(deps.Cart, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/create", controllers.OrdersCreate(deps.Orders, logg))
			r.Get("/", controllers.OrdersList(deps.Orders, logg))
			r.Get("/id/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Patch("/id/{orderId}/cancel", controllers.OrderCancel(deps.Orders, logg))
			r.Get("/track/{orderId}", controllers.OrderTrack(deps.Orders, logg))
			r.Post("/verify-payment", controllers.VerifyPayment(deps.Payments, logg))
			r.With(middleware.RequireRole(logg, enums.RoleSeller)).
				Put("/seller/id/{orderId}/status", controllers.SellerOrderStatus(deps.Orders, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationsList(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.NotificationMarkAllRead(deps.Notifications, logg))
		})

		r.Route("/seller/products", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller))
			r.Get("/", controllers.SellerProductsList(deps.Catalog, logg))
			r.Post("/", controllers.ProductCreate(deps.Catalog, logg))
			r.Patch("/{productId}", controllers.ProductUpdate(deps.Catalog, logg))
			r.Post("/{productId}/active", controllers.ProductSetActive(deps.Catalog, logg))
			r.Put("/{productId}/inventory", controllers.ProductAdjustStock(deps.Inventory, logg))
		})
	})

	return r
}
