package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/farmgoods/internal/auth"
	"github.com/ariefcatur/farmgoods/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(log *zap.Logger, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

// NewAPI mounts the public auth routes and the bearer-protected order routes.
func NewAPI(log *zap.Logger, metrics http.Handler, issuer *auth.Issuer, ah *AuthHandler, oh *OrdersHandler) *chi.Mux {
	r := NewRouter(log, metrics)
	ah.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(issuer))
		oh.Register(r)
	})
	return r
}

// requestLogger puts a request-scoped zap logger in the context and writes
// one access line per request.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), l)))

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			l.Info("http_request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()))
		})
	}
}
