package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opencensus.io/trace"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay/httputils"
	"github.com/gebv/tbcpay/services/installments"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP facade for installment applications",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var wg sync.WaitGroup
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	zap.L().Info("Starting installment service...", zap.String("version", VERSION))
	defer func() { zap.L().Info("Done.") }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := setupProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if cfg.Trace.SampleRate > 0 {
		trace.RegisterExporter(httputils.LogExporter{L: zap.L().Named("trace")})
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(cfg.Trace.SampleRate)})
		zap.L().Info("Tracing - configured!", zap.Float64("sample_rate", cfg.Trace.SampleRate))
	}

	prometheus.MustRegister(d.Provider)
	prometheus.MustRegister(d.Auditor)

	e := installments.NewServer(d.Provider, installments.Config{
		AppVersion:  VERSION,
		AccessToken: cfg.HTTP.AccessToken,
	}).Echo()

	debugServer := &http.Server{Addr: cfg.Debug.Addr, Handler: httputils.DebugMux(nil)}

	wg.Add(1)
	go func() {
		defer wg.Done()
		zap.L().Info("Debug server start", zap.String("address", cfg.Debug.Addr))
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("Debug server serve error.", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		zap.L().Info("HTTP server start",
			zap.String("address", cfg.HTTP.Addr),
			zap.Strings("paths", []string{
				installments.ApplicationsPath,
				installments.ConfirmPath,
				installments.CancelPath,
			}),
		)
		if err := e.Start(cfg.HTTP.Addr); err != nil && err != http.ErrServerClosed {
			zap.L().Error("failed run installment server", zap.Error(err))
			cancel()
		}
	}()

	// graceful stop
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("failed shutdown installment server", zap.Error(err))
	}
	if err := debugServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("failed shutdown debug server", zap.Error(err))
	}
	wg.Wait()
	return nil
}
