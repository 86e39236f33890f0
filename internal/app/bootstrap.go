package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/config"
	"github.com/iago/consulta-async/internal/queue"
	"github.com/iago/consulta-async/internal/repository"
)

const startupTimeout = 10 * time.Second

// Broker bundles the queue sides used by the gateway and the worker.
type Broker struct {
	Producer queue.Producer
	Consumer queue.Consumer
	Pinger   queue.Pinger
	Backend  string
}

// SetupJobs returns the ledger. Without DATABASE_URL it falls back to memory.
// An unreachable database does not stop startup; /health reports it.
func SetupJobs(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not configured, using in-memory ledger")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pool, err := repository.OpenPool(ctx, repository.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		ApplicationName: "consulta-ledger",
		Lazy:            true,
	})
	if err != nil {
		logger.WithError(err).Error("invalid ledger database config, using in-memory ledger")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	if cfg.DBMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := repository.EnsureLedgerSchema(migrateCtx, pool); err != nil {
			logger.WithError(err).Warn("ledger schema not ensured, database may be unreachable")
		}
	}

	logger.Info("postgres ledger initialized")
	return repository.NewPostgresJobsRepository(pool), pool.Close
}

// SetupCatalog returns the catalog store used by the processor.
func SetupCatalog(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (repository.CatalogRepository, func(), error) {
	dsn := cfg.CatalogURL
	if dsn == "" {
		dsn = cfg.DatabaseURL
	}

	switch {
	case dsn == "":
		catalog := repository.NewMemoryCatalog()
		if cfg.CatalogSeed != "" {
			records, err := repository.LoadCatalogSeed(cfg.CatalogSeed)
			if err != nil {
				return nil, nil, fmt.Errorf("load catalog seed: %w", err)
			}
			for _, record := range records {
				catalog.Put(record)
			}
			logger.WithField("records", len(records)).Info("memory catalog seeded")
		} else {
			logger.Warn("no catalog database configured, using empty in-memory catalog")
		}
		return catalog, func() {}, nil

	case repository.IsSQLiteDSN(dsn):
		catalog, err := repository.OpenSQLiteCatalog(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if cfg.CatalogSeed != "" {
			records, err := repository.LoadCatalogSeed(cfg.CatalogSeed)
			if err != nil {
				catalog.Close()
				return nil, nil, fmt.Errorf("load catalog seed: %w", err)
			}
			for _, record := range records {
				if err := catalog.Upsert(ctx, record); err != nil {
					catalog.Close()
					return nil, nil, err
				}
			}
		}
		logger.Info("sqlite catalog initialized")
		return catalog, func() { _ = catalog.Close() }, nil

	default:
		pool, err := repository.OpenPool(ctx, repository.PoolConfig{
			URL:             dsn,
			MaxConns:        int32(cfg.DBMaxConns),
			MinConns:        int32(cfg.DBMinConns),
			ApplicationName: "consulta-catalog",
			Lazy:            true,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.DBMigrate {
			migrateCtx, cancel := context.WithTimeout(ctx, startupTimeout)
			defer cancel()
			if err := repository.EnsureCatalogSchema(migrateCtx, pool); err != nil {
				logger.WithError(err).Warn("catalog schema not ensured, database may be unreachable")
			}
		}
		logger.Info("postgres catalog initialized")
		return repository.NewPostgresCatalog(pool), pool.Close, nil
	}
}

// SetupQueue selects the broker from config and optionally wraps the producer
// with a publish batcher.
func SetupQueue(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (Broker, func()) {
	var (
		broker     Broker
		baseCloser = func() {}
	)

	backend := cfg.ResolvedQueueBackend()
	switch backend {
	case config.QueueBackendRedis:
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			URL:            cfg.RedisURL,
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			Stream:         cfg.QueueName,
			Group:          cfg.RedisGroup,
			Consumer:       cfg.RedisConsumer,
			Prefetch:       cfg.QueuePrefetch,
			MaxDeliveries:  cfg.QueueMaxDeliveries,
			ClaimIdle:      cfg.QueueClaimIdle,
			HandlerTimeout: cfg.ProcessTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.WithError(err).Error("invalid redis config, falling back to local queue")
			broker, backend = localBroker(cfg, logger), config.QueueBackendLocal
			break
		}
		broker = Broker{Producer: streams, Consumer: streams, Pinger: streams}
		baseCloser = func() { _ = streams.Close() }
		logger.Info("redis streams queue initialized")

	case config.QueueBackendNATS:
		jetStream, err := queue.NewJetStreamQueue(ctx, queue.JetStreamConfig{
			URL:            cfg.NATSURL,
			Stream:         cfg.NATSStream,
			Subject:        cfg.QueueName,
			Durable:        cfg.NATSDurable,
			Prefetch:       cfg.QueuePrefetch,
			MaxDeliveries:  cfg.QueueMaxDeliveries,
			AckWait:        cfg.QueueClaimIdle,
			HandlerTimeout: cfg.ProcessTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.WithError(err).Error("nats setup failed, falling back to local queue")
			broker, backend = localBroker(cfg, logger), config.QueueBackendLocal
			break
		}
		broker = Broker{Producer: jetStream, Consumer: jetStream, Pinger: jetStream}
		baseCloser = func() { _ = jetStream.Close() }
		logger.Info("nats jetstream queue initialized")

	default:
		logger.Warn("no broker configured, using in-process local queue")
		broker = localBroker(cfg, logger)
	}
	broker.Backend = backend

	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewPublishBatcher(ctx, broker.Producer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
			Logger:             logger,
		})
		broker.Producer = batching
		batchingCloser = batching.Close
		logger.WithFields(logrus.Fields{
			"size":           cfg.QueueBatchSize,
			"flush_ms":       cfg.QueueBatchFlushMS,
			"queue_capacity": cfg.QueueBatchQueueCapacity,
			"max_in_flight":  cfg.QueueBatchMaxInFlight,
		}).Info("queue batching enabled")
	}

	return broker, func() {
		batchingCloser()
		baseCloser()
	}
}

func localBroker(cfg config.Config, logger logrus.FieldLogger) Broker {
	local := queue.NewLocalQueue(queue.LocalConfig{
		MaxDeliveries:  cfg.QueueMaxDeliveries,
		Prefetch:       cfg.QueuePrefetch,
		HandlerTimeout: cfg.ProcessTimeout,
	}, logger)
	return Broker{Producer: local, Consumer: local, Pinger: local}
}
