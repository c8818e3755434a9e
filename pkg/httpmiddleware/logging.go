package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger returns a middleware that stores lg in the request context so
// handlers can retrieve it with zctx.From. The request ID, if present, is
// attached as a logger field.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			ctx := zctx.Base(r.Context(), reqLg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.written += int64(n)
	return n, err
}

// LogRequests returns a middleware that logs one line per completed request:
// method, path, matched route pattern, status, response size, and duration.
// 5xx responses log at error level, everything else at info.
func LogRequests() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(sr, r)

			if sr.status == 0 {
				sr.status = http.StatusOK
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sr.status),
				zap.Int64("bytes", sr.written),
				zap.Duration("duration", time.Since(start)),
			}
			// r.Pattern is populated by ServeMux during routing, so it is
			// only available after the inner handler has run.
			if r.Pattern != "" {
				fields = append(fields, zap.String("route", r.Pattern))
			}

			lg := zctx.From(r.Context())
			if sr.status >= http.StatusInternalServerError {
				lg.Error("request", fields...)
			} else {
				lg.Info("request", fields...)
			}
		})
	}
}
