package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tishop/marketplace-backend/api/controllers"
	"github.com/tishop/marketplace-backend/api/middleware"
	"github.com/tishop/marketplace-backend/internal/orders"
	"github.com/tishop/marketplace-backend/internal/payouts"
	"github.com/tishop/marketplace-backend/internal/settlement"
	moncashwebhook "github.com/tishop/marketplace-backend/internal/webhooks/moncash"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	pkgredis "github.com/tishop/marketplace-backend/pkg/redis"
)

// Dependencies are the services the API exposes. Nil services answer 500 on their routes.
type Dependencies struct {
	DB               controllers.Pinger
	Redis            controllers.Pinger
	IdempotencyStore pkgredis.IdempotencyStore
	Metrics          prometheus.Gatherer

	Orders     orders.Service
	Settlement settlement.Service
	Payouts    payouts.Service
	Webhook    *moncashwebhook.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	idempotent := middleware.Idempotency(deps.IdempotencyStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}))
	})

	r.Handle("/metrics", metrics.Handler(deps.Metrics))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.CreateOrder(deps.Orders, logg))
			r.Get("/", controllers.ListOrders(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Post("/{orderId}/payments/moncash", controllers.InitiateMonCashPayment(deps.Settlement, logg))
		})

		r.Get("/payments/moncash/return", controllers.MonCashReturn(deps.Settlement, cfg.MonCash.ConfirmPageURL, logg))
		r.Post("/webhooks/moncash", controllers.MonCashWebhook(webhookHandler(deps.Webhook), logg))

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(enums.ActorRoleSeller, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.SellerOrders(deps.Settlement, logg))
				r.Get("/{sellerOrderId}", controllers.SellerOrderDetail(deps.Settlement, logg))
				r.With(idempotent).Patch("/{sellerOrderId}/status", controllers.UpdateSellerOrderStatus(deps.Settlement, logg))
				r.Post("/{sellerOrderId}/confirm-delivery", controllers.ConfirmSellerDelivery(deps.Settlement, logg))
			})
			r.Route("/payouts", func(r chi.Router) {
				r.Get("/", controllers.SellerPayoutSummary(deps.Payouts, logg))
				r.With(idempotent).Post("/withdraw", controllers.SellerWithdraw(deps.Payouts, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(idempotent).Post("/{orderId}/mark-paid", controllers.AdminMarkOrderPaid(deps.Settlement, logg))
				r.With(idempotent).Post("/{orderId}/cancel", controllers.AdminCancelOrder(deps.Settlement, logg))
			})
			r.Post("/seller-orders/{sellerOrderId}/reset-delivery-attempts", controllers.AdminResetDeliveryAttempts(deps.Settlement, logg))
		})
	})

	return r
}

func webhookHandler(svc *moncashwebhook.Service) controllers.WebhookHandler {
	if svc == nil {
		return nil
	}
	return svc
}
