package httputils

import (
	"go.opencensus.io/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to the logger at debug level.
type LogExporter struct {
	L *zap.Logger
}

func (e LogExporter) ExportSpan(sd *trace.SpanData) {
	l := e.L
	if l == nil {
		l = zap.L().Named("trace")
	}
	fields := []zap.Field{
		zap.String("trace_id", sd.TraceID.String()),
		zap.String("span_id", sd.SpanID.String()),
		zap.String("parent_span_id", sd.ParentSpanID.String()),
		zap.Duration("duration", sd.EndTime.Sub(sd.StartTime)),
		zap.Int32("status_code", sd.Status.Code),
	}
	if sd.Status.Message != "" {
		fields = append(fields, zap.String("status_message", sd.Status.Message))
	}
	for k, v := range sd.Attributes {
		fields = append(fields, zap.Any("attr."+k, v))
	}
	l.Debug(sd.Name, fields...)
}

var _ trace.Exporter = LogExporter{}
