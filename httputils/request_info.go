package httputils

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestInfoCtxKey ctxKey = iota
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderForwardedFor  = "X-Forwarded-For"
	HeaderDeviceID      = "Device-Id"
	HeaderSessionID     = "Session-Id"
	requestIDPrefixSelf = "ac-"
)

// SetRequestInfo returns a new context with set (or re-set) RequestInfo built from
// the incoming request headers.
func SetRequestInfo(ctx context.Context, r *http.Request, appVersion string) (out context.Context, res RequestInfo) {
	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		ipsl := strings.Split(xff, ", ")
		res.RealIP = strings.TrimSpace(ipsl[0])
		if len(ipsl) > 1 {
			res.ProxyIPs = ipsl[1:]
		}
	}
	res.UserAgent = r.UserAgent()
	res.DeviceID = r.Header.Get(HeaderDeviceID)
	res.SessionID = r.Header.Get(HeaderSessionID)
	res.RequestID = r.Header.Get(HeaderRequestID)

	if res.RealIP == "" && r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		res.ProxyIPs = []string{host}
	}

	if res.RequestID == "" {
		res.RequestID = appCreatedRequestID()
	}
	res.AppVersion = appVersion

	out = context.WithValue(ctx, requestInfoCtxKey, res)

	return out, res
}

// GetRequestInfo returns RequestInfo from the context.
func GetRequestInfo(ctx context.Context) (res RequestInfo, ok bool) {
	res, ok = ctx.Value(requestInfoCtxKey).(RequestInfo)
	return res, ok
}

// WithRequestID returns a context carrying only the given request id. It is used
// by callers that do not come through an HTTP handler (CLI, workers).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	res, _ := GetRequestInfo(ctx)
	res.RequestID = requestID
	return context.WithValue(ctx, requestInfoCtxKey, res)
}

// RequestID returns the request id from the context or a new one.
func RequestID(ctx context.Context) string {
	if res, ok := GetRequestInfo(ctx); ok && res.RequestID != "" {
		return res.RequestID
	}
	return appCreatedRequestID()
}

// RequestInfo контейнер с мета-информацией о реквесте.
type RequestInfo struct {
	RealIP     string
	ProxyIPs   []string
	DeviceID   string
	SessionID  string
	UserAgent  string
	RequestID  string
	AppVersion string
}

func (ri RequestInfo) FirstProxyIP() string {
	if len(ri.ProxyIPs) > 0 {
		return ri.ProxyIPs[0]
	}
	return ""
}

// application created
// ac-xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func appCreatedRequestID() string {
	return requestIDPrefixSelf + uuid.NewString()
}
