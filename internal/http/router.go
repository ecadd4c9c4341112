package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/trophythreads/internal/metrics"
)

type RouterConfig struct {
	Carts          *CartHandler
	Checkout       *CheckoutHandler
	Metrics        *metrics.ServerMetrics
	RequestTimeout time.Duration
	// Ready reports whether the backing stores are reachable.
	Ready func(r *http.Request) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r); err != nil {
				respondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware)
		r.Use(IdentityMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cfg.Carts.GetCart)
			r.Post("/items", cfg.Carts.AddItem)
			r.Post("/items/{id}", cfg.Carts.UpdateItem)
			r.Delete("/items/{id}", cfg.Carts.RemoveItem)
			r.Post("/items/{id}/select", cfg.Carts.ToggleSelect)
			r.Post("/select-all", cfg.Carts.SelectAll)
		})

		r.Post("/checkout", cfg.Checkout.Checkout)
		r.Get("/checkout", cfg.Checkout.View)
		r.Get("/checkout/confirmation", cfg.Checkout.Confirmation)
		r.Post("/buy-now", cfg.Checkout.BuyNow)
		r.Get("/orders/{token}", cfg.Checkout.GetOrder)
	})

	return otelhttp.NewHandler(r, "checkout-http")
}
