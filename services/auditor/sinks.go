package auditor

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultSubject = "provider_tbc_audit"

// NatsSink publishes every record as a JSON message.
type NatsSink struct {
	ec      *nats.EncodedConn
	subject string
}

func NewNatsSink(nc *nats.Conn, subject string) (*NatsSink, error) {
	ec, err := nats.NewEncodedConn(nc, nats.JSON_ENCODER)
	if err != nil {
		return nil, errors.Wrap(err, "Failed new encoded conn")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NatsSink{ec: ec, subject: subject}, nil
}

func (s *NatsSink) Put(ctx context.Context, records []*Record) error {
	for _, r := range records {
		if err := s.ec.Publish(s.subject, r); err != nil {
			return errors.Wrap(err, "Failed publish audit record")
		}
	}
	if err := s.ec.Conn.FlushWithContext(ctx); err != nil {
		return errors.Wrap(err, "Failed flush nats")
	}
	return nil
}

// LogSink writes records to the logger. Used when no broker is configured.
type LogSink struct {
	L *zap.Logger
}

func (s LogSink) Put(ctx context.Context, records []*Record) error {
	l := s.L
	if l == nil {
		l = zap.L().Named("audit")
	}
	for _, r := range records {
		l.Info("Provider call.",
			zap.String("provider", r.Provider),
			zap.String("operation", r.Operation),
			zap.String("request_id", r.RequestID),
			zap.String("url", r.URL),
			zap.Int("status_code", r.StatusCode),
			zap.Int64("duration_ms", r.DurationMS),
			zap.String("error", r.Error),
		)
	}
	return nil
}

var (
	_ Sink = (*NatsSink)(nil)
	_ Sink = LogSink{}
)
