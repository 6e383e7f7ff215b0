package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"caption-scheduler/internal/metrics"
	"caption-scheduler/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the evidence scheduler, the fatigue cron job and the metrics
// endpoint until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Ping(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Name:         "evidence",
		Interval:     a.Config.Evidence.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}
	updater := a.newUpdater(store, store, store)

	monitor, err := a.newMonitor(store)
	if err != nil {
		return err
	}
	crons := scheduler.NewCronRunner(a.Logger)
	if spec := a.Config.Fatigue.Cron; spec != "" {
		err := crons.Add(ctx, "fatigue-scan", spec, func(ctx context.Context) error {
			_, err := a.scanAll(ctx, store, monitor, time.Now().UTC())
			return err
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, func(ctx context.Context, cycle time.Time) error {
			_, err := updater.RunCycle(ctx, cycle)
			return err
		})
	})
	g.Go(func() error {
		return crons.Run(gctx)
	})
	if a.Config.Metrics.Addr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}

	a.Logger.Info().
		Dur("evidence_interval", a.Config.Evidence.Interval).
		Str("fatigue_cron", a.Config.Fatigue.Cron).
		Str("metrics_addr", a.Config.Metrics.Addr).
		Msg("starting scheduler service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler service stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, metrics.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
