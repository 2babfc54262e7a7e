// Package updater follows audit records published by auditor.NatsSink.
package updater

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay/provider"
	"github.com/gebv/tbcpay/services/auditor"
)

// Filter selects records to deliver. Empty fields match anything.
type Filter struct {
	Provider  provider.Provider
	Operation string
	RequestID string
}

func (f Filter) Match(r *auditor.Record) bool {
	if !f.Provider.Match(provider.UNKNOWN_PROVIDER) && !f.Provider.Match(provider.Provider(r.Provider)) {
		return false
	}
	if f.Operation != "" && f.Operation != r.Operation {
		return false
	}
	if f.RequestID != "" && f.RequestID != r.RequestID {
		return false
	}
	return true
}

type Server struct {
	nc      *nats.EncodedConn
	subject string
	l       *zap.Logger
}

func NewServer(nc *nats.EncodedConn, subject string) *Server {
	if subject == "" {
		subject = auditor.DefaultSubject
	}
	return &Server{
		nc:      nc,
		subject: subject,
		l:       zap.L().Named("updater"),
	}
}

// Follow calls fn for every matching record until ctx is done or fn fails.
// fn is called from a single goroutine.
func (s *Server) Follow(ctx context.Context, f Filter, fn func(*auditor.Record) error) error {
	ch := make(chan *auditor.Record, 64)
	sub, err := s.nc.Subscribe(s.subject, func(m *auditor.Record) {
		if !f.Match(m) {
			return
		}
		select {
		case ch <- m:
		default:
			s.l.Warn("Dropped audit record, consumer is slow.",
				zap.String("request_id", m.RequestID),
				zap.String("operation", m.Operation),
			)
		}
	})
	if err != nil {
		return errors.Wrap(err, "Failed subscribe.")
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return errors.Wrap(err, "Failed flush subscription.")
	}
	s.l.Info("Subscribed.", zap.String("subject", s.subject))
	defer func() {
		s.l.Info("Unsubscribed.", zap.String("subject", s.subject))
		_ = sub.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-ch:
			if err := fn(m); err != nil {
				return errors.Wrap(err, "Failed to handle record.")
			}
		}
	}
}
