package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/consulta-async/internal/app"
	"github.com/iago/consulta-async/internal/config"
	httpserver "github.com/iago/consulta-async/internal/http"
	"github.com/iago/consulta-async/internal/http/handlers"
	"github.com/iago/consulta-async/internal/logger"
	"github.com/iago/consulta-async/internal/service"
	"github.com/iago/consulta-async/internal/worker"
)

const version = "1.0.0"

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat).WithField("component", "api")
	if dotenvErr != nil {
		log.WithError(dotenvErr).Warn("failed loading .env files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, closeJobs := app.SetupJobs(ctx, cfg, log)
	defer closeJobs()

	broker, closeQueue := app.SetupQueue(ctx, cfg, log)
	defer closeQueue()

	queries := service.NewQueriesService(jobs, broker.Producer, log)
	api := handlers.NewAPI(handlers.APIDependencies{
		Queries:  queries,
		Database: jobs,
		Broker:   broker.Pinger,
		Version:  version,
		Logger:   log,
	})

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         log,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		catalog, closeCatalog, err := app.SetupCatalog(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Fatal("catalog setup failed")
		}
		defer closeCatalog()

		processor := worker.NewProcessor(broker.Consumer, jobs, catalog, cfg.WorkerID, log)
		go func() {
			defer close(workerDone)
			processor.Start(ctx)
		}()
		log.WithField("backend", broker.Backend).Info("in-process worker enabled")
	} else {
		close(workerDone)
		log.Info("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	<-workerDone
}
