package httputils

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type logFunc func(v ...interface{})

func (l logFunc) Println(v ...interface{}) {
	l(v...)
}

// DebugMux serves /metrics from the given gatherer
// (prometheus.DefaultGatherer when nil).
func DebugMux(g prometheus.Gatherer) http.Handler {
	l := zap.L().Named("debugMux")
	sugar := l.Sugar()

	if g == nil {
		g = prometheus.DefaultGatherer
	}

	s := http.NewServeMux()

	s.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      logFunc(sugar.Warn),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	s.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return s
}
