package settings

import (
	"context"
	"net/http"
	"runtime/pprof"

	"github.com/labstack/echo"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay/httputils"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
)

// Middleware с настройками запроса.
//
// Устанавливает в контекст
// - request info (from package httputils.RequestInfo)
// - экземпляр логгера, в нем задан request_id
// - span запроса
func Middleware(appVersion string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx, reqMeta := httputils.SetRequestInfo(r.Context(), r, appVersion)

			l := zap.L().Named(c.Path()).With(
				zap.String("request_id", reqMeta.RequestID),
				zap.String("device_id", reqMeta.DeviceID),
				zap.String("session_id", reqMeta.SessionID),
				zap.String("backend_version", reqMeta.AppVersion),
			)
			ctx = SetLogger(ctx, l)

			h := c.Response().Header()
			h.Set(httputils.HeaderRequestID, reqMeta.RequestID)
			h.Set("Backend-Version", reqMeta.AppVersion)

			// add pprof labels for more useful profiles
			defer pprof.SetGoroutineLabels(ctx)
			ctx = pprof.WithLabels(ctx, pprof.Labels("path", c.Path()))
			pprof.SetGoroutineLabels(ctx)

			ctx, span := trace.StartSpan(ctx, "installments."+c.Request().Method+"."+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.AddAttributes(
				trace.StringAttribute("request_id", reqMeta.RequestID),
				trace.StringAttribute("path", c.Path()),
			)

			c.SetRequest(r.WithContext(ctx))
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			span.AddAttributes(trace.Int64Attribute("status_code", int64(status)))
			span.SetStatus(ochttp.TraceStatus(status, http.StatusText(status)))
			return err
		}
	}
}

func SetLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// GetLogger returns the request logger or the global one.
func GetLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}
