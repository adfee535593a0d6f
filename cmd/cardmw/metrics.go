package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/logger"
	"github.com/niclabs/cardmw/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeMetricsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve the Prometheus metrics of the module",
		Long: `Serve the Prometheus metrics of the module until interrupted. The slots are
refreshed on every slot event so the session and operation metrics stay current.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serveMetrics(ctx)
		},
	}
	return cmd
}

func metricsServer(conf core.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(conf.Path, promhttp.Handler())
	return &http.Server{
		Addr:              conf.Listen,
		Handler:           mux,
		ReadHeaderTimeout: conf.Timeout,
	}
}

func (a *app) serveMetrics(ctx context.Context) error {
	srv := metricsServer(a.conf.Metrics)
	go a.watchSlots(ctx)

	errc := make(chan error, 1)
	go func() {
		logger.Infof("serving metrics on %s%s", srv.Addr, a.conf.Metrics.Path)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

// watchSlots logs slot events until ctx is done.
func (a *app) watchSlots(ctx context.Context) {
	for {
		id, err := a.module.WaitForSlotEvent(ctx, 0)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warningf("slot watch stopped: %v", err)
			}
			return
		}
		logger.Infof("slot %d changed", id)
	}
}
