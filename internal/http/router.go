package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront-cart/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter mounts the cart API. The returned handler is wrapped in otelhttp.
func NewRouter(h *CartHandler, log *zap.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Get("/summary", h.GetSummary)
			r.Post("/items", h.AddItem)
			r.Put("/items/{item_id}", h.UpdateQuantity)
			r.Delete("/items/{item_id}", h.RemoveItem)
			r.Post("/items/{item_id}/save", h.SaveForLater)
			r.Get("/saved", h.GetSaved)
			r.Post("/saved/{item_id}/move", h.MoveToCart)
			r.Delete("/saved/{item_id}", h.RemoveSaved)
		})
		r.Get("/pricing", h.Quote)
	})

	return otelhttp.NewHandler(r, "storefront-cart")
}

// RequestLogger attaches a request-scoped logger and logs each request once.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := logger.WithRequestID(r.Context(), log, middleware.GetReqID(r.Context()))
			l := logger.WithTraceContext(ctx, logger.FromContext(ctx))
			ctx = logger.WithContext(ctx, l)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			l.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
