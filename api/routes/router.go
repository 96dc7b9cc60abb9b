package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/stockledger/api/controllers"
	webhookcontrollers "github.com/angelmondragon/stockledger/api/controllers/webhooks"
	"github.com/angelmondragon/stockledger/api/middleware"
	pkgAuth "github.com/angelmondragon/stockledger/pkg/auth"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	Ready          map[string]controllers.Pinger
	Gatherer       prometheus.Gatherer
	Checkout       controllers.OrderPlacer
	Stock          controllers.StockService
	StockLogs      controllers.StockLogReader
	Orders         controllers.OrderService
	PaymentWebhook webhookcontrollers.PaymentWebhookService
	WebhookGuard   webhookcontrollers.PaymentWebhookGuard
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Post("/reservations", controllers.ReserveStock(deps.Stock, logg))
		r.Delete("/reservations/{reservationId}", controllers.ReleaseReservation(deps.Stock, logg))
		r.Get("/products/{productId}/availability", controllers.ProductAvailability(deps.Stock, logg))
		r.Get("/orders/{orderId}", controllers.GetOrder(deps.Orders, logg))
		r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(deps.Orders, logg))

		r.Post("/webhooks/payments", webhookcontrollers.PaymentWebhook(
			deps.PaymentWebhook,
			cfg.Webhooks.PaymentSigningSecret,
			deps.WebhookGuard,
			logg,
		))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			// Any valid role may read the audit trail.
			r.Get("/products/{productId}/stock-logs", controllers.AdminStockLogs(deps.StockLogs, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(pkgAuth.RoleOperator, logg))

				r.Post("/products/{productId}/stock/increment", controllers.AdminAdjustStock(deps.Stock, true, logg, middleware.OperatorFromContext))
				r.Post("/products/{productId}/stock/decrement", controllers.AdminAdjustStock(deps.Stock, false, logg, middleware.OperatorFromContext))
				r.Post("/orders/{orderId}/status", controllers.AdminUpdateOrderStatus(deps.Orders, logg, middleware.OperatorFromContext))
			})
		})
	})

	return r
}
