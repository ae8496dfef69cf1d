package observability

import (
	"context"
	"net/http"

	"github.com/Ruyllex/rulo-web/internal/config"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup initialises logging, metrics and tracing and returns the tracer
// shutdown together with the /metrics handler.
func Setup(ctx context.Context, serviceName string, cfg config.Observability) (func(context.Context) error, http.Handler, error) {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics()
	shutdown, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTelEnabled)
	if err != nil {
		return nil, nil, err
	}
	return shutdown, promhttp.Handler(), nil
}
