package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Instrument returns a middleware that wraps the handler with otelhttp,
// producing spans and metrics via the telemetry providers. Span names use the
// matched ServeMux pattern when available so cardinality stays bounded.
func Instrument(serviceName string, m *app.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return operation + " " + r.Method
			}),
		)
	}
}
