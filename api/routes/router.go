package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commercekit/checkout-backend/api/controllers"
	"github.com/commercekit/checkout-backend/api/middleware"
	cartsvc "github.com/commercekit/checkout-backend/internal/cart"
	checkoutsvc "github.com/commercekit/checkout-backend/internal/checkout"
	inventorysvc "github.com/commercekit/checkout-backend/internal/inventory"
	ordersvc "github.com/commercekit/checkout-backend/internal/orders"
	"github.com/commercekit/checkout-backend/pkg/config"
	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	cartService cartsvc.Service,
	checkoutService checkoutsvc.Service,
	inventoryService inventorysvc.Service,
	ordersService ordersvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Identity(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(cartService, logg))
			r.Delete("/", controllers.CartClear(cartService, logg))
			r.Post("/items", controllers.CartAddItem(cartService, logg))
			r.Post("/items/bulk", controllers.CartAddBulkItems(cartService, logg))
			r.Patch("/items/{productId}", controllers.CartUpdateItem(cartService, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(cartService, logg))
			r.Post("/validate", controllers.CartValidate(cartService, logg))
			r.Post("/merge", controllers.CartMerge(cartService, logg))
			r.Post("/extend", controllers.CartExtend(cartService, logg))
			r.Get("/expiration", controllers.CartExpiration(cartService, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/summary", controllers.CheckoutSummary(checkoutService, logg))
			r.Post("/", controllers.CheckoutInitiate(checkoutService, logg))
			r.Post("/confirm", controllers.CheckoutConfirm(checkoutService, logg))
			r.Post("/cancel", controllers.CheckoutCancel(checkoutService, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{productId}", controllers.InventoryStatus(inventoryService, logg))
			r.Get("/{productId}/availability", controllers.InventoryAvailability(inventoryService, logg))
			r.Post("/batch", controllers.InventoryBatchStatus(inventoryService, logg))
			r.Patch("/batch", controllers.InventoryBatchUpdate(inventoryService, logg))
			r.Patch("/{productId}", controllers.InventoryUpdate(inventoryService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(ordersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersService, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(ordersService, logg))
		})
	})

	return r
}
