package main

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay/config"
	"github.com/gebv/tbcpay/provider"
	"github.com/gebv/tbcpay/provider/tbc"
	"github.com/gebv/tbcpay/services/auditor"
)

// deps are the long-lived resources behind a provider.
type deps struct {
	Provider *tbc.Provider
	Auditor  *auditor.Auditor

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func setupProvider(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}
	opts := []tbc.Option{tbc.WithLogger(zap.L().Named("tbc_provider"))}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, errors.Wrap(err, "Failed ping redis")
		}
		d.closers = append(d.closers, func() { _ = rdb.Close() })
		opts = append(opts, tbc.WithSessionStore(provider.NewRedisStore(rdb)))
		zap.L().Info("Redis - Connected!", zap.String("addr", cfg.Redis.Addr))
	}

	var sink auditor.Sink = auditor.LogSink{L: zap.L().Named("audit")}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("tbc-installment"))
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "Failed connect to nats")
		}
		d.closers = append(d.closers, nc.Close)
		ns, err := auditor.NewNatsSink(nc, cfg.NATS.Subject)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "Failed new nats sink")
		}
		sink = ns
		zap.L().Info("NATS - Connected!", zap.String("url", cfg.NATS.URL), zap.String("subject", cfg.NATS.Subject))
	}
	d.Auditor = auditor.NewAuditor(sink)
	d.closers = append(d.closers, d.Auditor.Stop)
	opts = append(opts, tbc.WithAuditor(d.Auditor))

	d.Provider = tbc.NewProvider(cfg.Provider(), opts...)
	return d, nil
}
