package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ember/internal/logging"
)

const traceScopeGateway = "ember.gateway"

// requestLoggingMiddleware logs every request's method, path, and latency,
// adapted from the reference delivery layer's LoggingMiddleware.
func requestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// tracingMiddleware wraps each request in a span, mirroring the reference
// react package's startReactSpan/markSpanResult pair applied one layer up
// at the HTTP boundary instead of around an agent iteration.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := otel.Tracer(traceScopeGateway).Start(c.Request.Context(), "ember.gateway.request",
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if len(c.Errors) > 0 {
			span.SetStatus(codes.Error, c.Errors.String())
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}
