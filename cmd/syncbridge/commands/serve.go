package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/engine"
	"github.com/syncbridge/syncbridge/health"
	"github.com/syncbridge/syncbridge/logging/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health endpoint and periodic sync tickers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()
			return runServe(cmd.Context(), a, resolver)
		},
	}
}

func runServe(ctx context.Context, a *app, resolver adapter.Resolver) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick up log-level changes without a restart. Connection and
	// engine settings stay fixed for the process lifetime.
	config.Watch(func(cfg *config.Config) {
		a.log.SetLevel(logrus.Level(cfg.Logger.Level))
		a.log.Info("configuration reloaded")
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := health.NewHandler(a.store, a.brk, resolver, int64(a.cfg.Server.FailedJobsCeiling))
	handler.Register(router.Group("/"))

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(map[string]any{"addr": srv.Addr}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var wg sync.WaitGroup
	for _, module := range tickerModules(a, resolver) {
		wg.Add(1)
		go func(module string) {
			defer wg.Done()
			runTicker(ctx, a.engine.ForModule(module), a.log, module, a.cfg.Engine.TickInterval)
		}(module)
	}

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http server shutdown")
	}
	wg.Wait()
	return nil
}

// tickerModules returns the modules to drive with periodic runs.
// Config wins; with no configuration every registered adapter module
// gets its own ticker.
func tickerModules(a *app, resolver adapter.Resolver) []string {
	if len(a.cfg.Engine.Modules) > 0 {
		return a.cfg.Engine.Modules
	}
	if resolver != nil {
		return resolver.Modules()
	}
	return nil
}

func runTicker(ctx context.Context, eng *engine.Engine, log *logger.Logger, module string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := eng.Process(ctx)
			if err != nil {
				log.WithError(err).WithFields(map[string]any{"module": module}).Error("sync run failed")
				continue
			}
			if report.Claimed > 0 || report.Recovered > 0 {
				log.WithFields(map[string]any{
					"module":    module,
					"claimed":   report.Claimed,
					"succeeded": report.Succeeded,
					"failed":    report.Failed,
					"recovered": report.Recovered,
				}).Info("sync run finished")
			}
		}
	}
}
