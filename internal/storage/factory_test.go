package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
)

func TestNewJobStore_Memory(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = common.StorageTypeMemory

	store, err := NewJobStore(context.Background(), arbor.NewLogger(), config)
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNewJobStore_Badger(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = common.StorageTypeBadger
	config.Storage.Badger.Path = t.TempDir()

	store, err := NewJobStore(context.Background(), arbor.NewLogger(), config)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}

func TestNewJobStore_Unsupported(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = "sqlite"

	_, err := NewJobStore(context.Background(), arbor.NewLogger(), config)
	assert.ErrorContains(t, err, "unsupported storage type")
}
