package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studyhub/internal/api"
	"studyhub/internal/app"
	"studyhub/internal/logging"
	"studyhub/internal/metrics"
	"studyhub/internal/service/attachment"
	"studyhub/internal/service/extraction"
	"studyhub/internal/worker"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("STUDYHUB_CONFIG"), "path to config.json")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "studyhub: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.Config, a.Logger

	dispatcher := worker.NewDispatcher(cfg.Extraction.Workers, cfg.Extraction.QueueSize)
	defer dispatcher.Close()
	extractor, err := extraction.NewFromConfig(ctx, cfg, dispatcher, logger.Named("extraction"))
	if err != nil {
		return fmt.Errorf("init extraction: %w", err)
	}

	if cfg.Attachments.SweepInterval > 0 {
		retention := time.Duration(cfg.Attachments.RetentionDays) * 24 * time.Hour
		if retention <= 0 {
			retention = attachment.DefaultRetention
		}
		a.Attachments.StartSweeper(ctx, cfg.Attachments.SweepInterval, retention)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.GinMiddleware(logger), gin.Recovery())
	router.GET("/metrics", metrics.Handler())

	handler := api.NewHandler(api.Deps{
		Auth:        a.Auth,
		Accounts:    a.Accounts,
		Personas:    a.Personas,
		Extraction:  extractor,
		Attachments: a.Attachments,
		Files:       a.LocalFiles(),
		Logger:      logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.BasicConfig.Environment),
			zap.Bool("extraction", extractor.Enabled()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
