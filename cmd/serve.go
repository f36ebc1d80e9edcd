package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"talent-radar/internal/api"
	"talent-radar/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, work queue and optional scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		sched, err := scheduler.New(a.store, a.batches, cfg.Scheduler, log)
		if err != nil {
			return err
		}

		handler := api.NewHandler(api.Deps{
			Store:        a.store,
			Batches:      a.batches,
			Requirements: a.requirements,
			Extractions:  a.extraction,
			Matcher:      a.engine,
			Exporter:     a.exporter,
			Recipients:   a.recipients,
			Fetcher:      a.fetcher,
		}, log)

		addr := cfg.Server.Addr
		if addr == "" {
			addr = ":8080"
		}
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

		log.Info("listening", zap.String("addr", addr), zap.Bool("scheduler", cfg.Scheduler.Enabled()))
		return runServer(ctx, srv, sched, 5*time.Second)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type backgroundRunner interface {
	Start(ctx context.Context) error
}

// runServer 运行服务器与调度器，ctx 取消后在 shutdownTimeout 内优雅关闭。
func runServer(ctx context.Context, srv httpServer, sched backgroundRunner, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
