package adminhttp

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/bavix/btscan/internal/metrics"
)

// rateLimited rejects requests over limiter with 429. A nil limiter lets
// everything through.
func rateLimited(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, errorResponse{Error: "rate limit exceeded", Message: "too many scan requests"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recordMetrics counts requests by route template, so device addresses do
// not explode the label set.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.RecordHTTP(r.Method, route, status)
	})
}
