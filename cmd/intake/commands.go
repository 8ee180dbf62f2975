package main

import (
	"context"
	"fmt"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/internal/storage"
	"intake/pkg/bootstrap"
	"intake/pkg/metrics"
	"intake/pkg/models"
)

const redriveServiceName = "intake-redrive"

func runMigrate(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	connector := bootstrap.NewDatabaseConnector(cfg, log)
	conns, err := connector.InitAll(ctx)
	if err != nil {
		return err
	}
	defer connector.ShutdownDatabases(ctx, conns)

	return migrateBackends(ctx, cfg, conns, log)
}

// migrateBackends prepares the backend selected by the persistence driver.
func migrateBackends(ctx context.Context, cfg *config.Config, conns *bootstrap.Connections, log logger.Logger) error {
	switch cfg.Persistence.Driver {
	case constants.StorePostgres:
		if conns.Postgres == nil {
			return fmt.Errorf("persistence driver %q requires database.postgres", cfg.Persistence.Driver)
		}
		if err := storage.Migrate(conns.Postgres); err != nil {
			return err
		}
		version, dirty, err := storage.MigrationVersion(conns.Postgres)
		if err != nil {
			return err
		}
		log.InfowCtx(ctx, "PostgreSQL migrations applied", "version", version, "dirty", dirty)
	case constants.StoreMongoDB:
		db := conns.MongoDatabase(cfg.Database.MongoDB)
		if db == nil {
			return fmt.Errorf("persistence driver %q requires database.mongodb", cfg.Persistence.Driver)
		}
		if err := storage.EnsureMongoIndexes(ctx, db, cfg.Persistence.Collection); err != nil {
			return err
		}
		log.InfowCtx(ctx, "MongoDB indexes ensured", "database", db.Name(), "collection", cfg.Persistence.Collection)
	default:
		log.InfowCtx(ctx, "Nothing to migrate", "driver", cfg.Persistence.Driver)
	}
	return nil
}

// runRedrive replays dead letters into the event store until ctx is cancelled. Upserts
// are idempotent, so letters that were partially persisted replay safely.
func runRedrive(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	metrics.RegisterBrokerMetrics()
	metrics.RegisterIngestMetrics()

	base := bootstrap.NewBase(cfg, log)
	if !base.BrokerEnabled() {
		return fmt.Errorf("redrive requires a configured broker")
	}
	if cfg.Persistence.Driver == "" || cfg.Persistence.Driver == constants.StoreMemory {
		return fmt.Errorf("redrive requires a durable persistence driver, got %q", cfg.Persistence.Driver)
	}

	connector := bootstrap.NewDatabaseConnector(cfg, log)
	conns, err := connector.InitAll(ctx)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.Persistence, storage.Backends{
		Postgres: conns.Postgres,
		Mongo:    conns.MongoDatabase(cfg.Database.MongoDB),
	})
	if err != nil {
		connector.ShutdownDatabases(ctx, conns)
		return err
	}

	if err := base.InitConsumer(redriveServiceName); err != nil {
		connector.ShutdownDatabases(ctx, conns)
		return err
	}

	topic := cfg.Broker.Kafka.DLQTopic
	if topic == "" {
		topic = constants.DefaultDLQTopic
	}

	log.InfowCtx(ctx, "Redrive started", "topic", topic, "store", store.Name())
	consumeErr := base.Consumer.Consume(ctx, topic, func(ctx context.Context, letter models.DeadLetter) error {
		inserted, err := store.UpsertBatch(ctx, letter.Events)
		if err != nil {
			return err
		}
		log.InfowCtx(ctx, "Dead letter replayed",
			"source", letter.Source,
			"reason", letter.Reason,
			"events", len(letter.Events),
			"inserted", inserted,
		)
		return nil
	})

	shutdownErr := base.Shutdown(context.Background(), func(ctx context.Context) []error {
		errs := []error{}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return append(errs, connector.ShutdownDatabases(ctx, conns)...)
	})
	if consumeErr != nil {
		return consumeErr
	}
	return shutdownErr
}
