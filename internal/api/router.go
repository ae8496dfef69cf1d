package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Ruyllex/rulo-web/internal/handler"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/auth"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

var registerOnce sync.Once

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration)
	})
}

type RouterConfig struct {
	RedisClient    redis.RedisClient
	JWTSecret      string
	RateLimiter    *RateLimiter
	MetricsHandler http.Handler
}

func SetupRouter(h *handler.Handler, cfg RouterConfig) *mux.Router {
	registerMetrics()

	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}
	h.RegisterPublicRoutes(r)

	protected := r.NewRoute().Subrouter()
	protected.Use(auth.AuthMiddleware(cfg.RedisClient, cfg.JWTSecret))
	if cfg.RateLimiter != nil {
		protected.Use(cfg.RateLimiter.Handler)
	}
	h.RegisterProtectedRoutes(protected)

	return r
}

// metricsMiddleware labels requests by route template so path variables do
// not explode label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(r.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
