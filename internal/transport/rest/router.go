package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/giftcard-fulfillment/internal/admin"
	"github.com/frahmantamala/giftcard-fulfillment/internal/auth"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/transport/middleware"
	"github.com/frahmantamala/giftcard-fulfillment/internal/transport/swagger"
)

type Handlers struct {
	Auth    *auth.Handler
	Catalog *catalog.Handler
	Order   *order.Handler
	Admin   *admin.Handler
}

type RouterOptions struct {
	AllowedOrigins string
	MetricsEnabled bool
	MetricsPath    string
	OpenAPIPath    string
	Optional       map[string]Pinger
}

func RegisterAllRoutes(router *chi.Mux, db *sqlx.DB, h Handlers, opts RouterOptions, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, opts.Optional)

	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	if opts.MetricsEnabled {
		router.Use(middleware.Metrics)
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, metrics.Handler())
	}

	openapi := opts.OpenAPIPath
	if openapi == "" {
		openapi = "./api/openapi.yml"
	}
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openapi)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if h.Auth != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", h.Auth.Login)
				sr.Post("/refresh", h.Auth.RefreshToken)
			})
		}

		r.Route("/giftcards", func(gr chi.Router) {
			if h.Catalog != nil {
				gr.Get("/brands", h.Catalog.ListBrands)
				gr.Get("/brands/{code}/stores", h.Catalog.ListStores)
			}

			if h.Order != nil && h.Auth != nil {
				gr.Group(func(pr chi.Router) {
					pr.Use(h.Auth.AuthMiddleware)
					pr.Post("/orders", h.Order.CreateOrder)
					pr.Get("/orders", h.Order.ListOrders)
					pr.Get("/orders/{id}", h.Order.GetOrder)
					pr.Post("/orders/{id}/verify", h.Order.Verify)
				})
			}
		})

		if h.Admin != nil {
			r.Route("/admin", h.Admin.Routes)
		}
	})
}
