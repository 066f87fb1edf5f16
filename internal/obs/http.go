package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPObs instruments admin requests: one span, the request metrics and a
// structured access log line per request. Any part left nil or false is skipped.
type HTTPObs struct {
	Metrics *HTTPMetrics
	Logger  *zerolog.Logger
	Tracing bool
}

// Middleware wraps next with the configured instrumentation.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("toko-fulfillment/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		var span trace.Span
		if o.Tracing {
			ctx, span = tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
		}
		if o.Metrics != nil {
			o.Metrics.InFlight.Inc()
			defer o.Metrics.InFlight.Dec()
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		if span != nil {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			span.End()
		}
		if o.Metrics != nil {
			o.Metrics.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			o.Metrics.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(elapsed))
		}
		if o.Logger != nil {
			evt := o.Logger.Info()
			if status >= http.StatusInternalServerError {
				evt = o.Logger.Error()
			}
			evt = evt.Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Int("status", status).
				Int64("duration_ms", elapsed.Milliseconds()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context()))
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				evt = evt.Str("trace_id", sc.TraceID().String())
			}
			evt.Msg("http_request")
		}
	})
}

// routePattern returns the chi pattern matched for r. chi fills it in while
// routing, so it is only complete once the handler has run.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
