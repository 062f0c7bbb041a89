package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/storage/badger"
	"github.com/ternarybob/dossier/internal/storage/postgres"
)

// NewJobStore opens the durable job store selected by config.
// The memory type returns a nil store: the registry alone tracks jobs.
func NewJobStore(ctx context.Context, logger arbor.ILogger, config *common.Config) (interfaces.JobStore, error) {
	switch config.Storage.Type {
	case common.StorageTypeMemory, "":
		logger.Info().Msg("No durable job store configured - jobs are tracked in memory only")
		return nil, nil

	case common.StorageTypeBadger:
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		return badger.NewJobStore(db, logger), nil

	case common.StorageTypePostgres:
		store, err := postgres.NewJobStore(ctx, logger, &config.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
}
