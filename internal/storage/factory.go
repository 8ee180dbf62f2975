package storage

import (
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"intake/internal/config"
	"intake/internal/constants"
)

// Backends carries the already-connected clients a store may be built on.
type Backends struct {
	Postgres *sql.DB
	Mongo    *mongo.Database
}

func NewStore(cfg config.PersistenceConfig, b Backends) (Store, error) {
	switch cfg.Driver {
	case "", constants.StoreMemory:
		return NewMemoryStore(), nil
	case constants.StorePostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("persistence driver %q requires a postgres connection", cfg.Driver)
		}
		return NewPostgresStore(b.Postgres, cfg.Table), nil
	case constants.StoreMongoDB:
		if b.Mongo == nil {
			return nil, fmt.Errorf("persistence driver %q requires a mongodb connection", cfg.Driver)
		}
		return NewMongoStore(b.Mongo, cfg.Collection), nil
	default:
		return nil, fmt.Errorf("unsupported persistence driver: %s", cfg.Driver)
	}
}
