package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/app"
	"github.com/iago/consulta-async/internal/config"
	"github.com/iago/consulta-async/internal/logger"
	"github.com/iago/consulta-async/internal/worker"
)

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat).WithField("component", "worker")
	if dotenvErr != nil {
		log.WithError(dotenvErr).Warn("failed loading .env files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, closeJobs := app.SetupJobs(ctx, cfg, log)
	defer closeJobs()

	catalog, closeCatalog, err := app.SetupCatalog(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("catalog setup failed")
	}
	defer closeCatalog()

	broker, closeQueue := app.SetupQueue(ctx, cfg, log)
	defer closeQueue()
	if broker.Backend == config.QueueBackendLocal {
		log.Warn("standalone worker on the local queue receives nothing from the api; set QUEUE_BACKEND")
	}

	log.WithFields(logrus.Fields{
		"worker_id": cfg.WorkerID,
		"backend":   broker.Backend,
		"prefetch":  cfg.QueuePrefetch,
	}).Info("worker starting")

	worker.NewProcessor(broker.Consumer, jobs, catalog, cfg.WorkerID, log).Start(ctx)
}
