package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

// newTestStore connects to DOSSIER_TEST_POSTGRES_DSN or skips
func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	dsn := os.Getenv("DOSSIER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOSSIER_TEST_POSTGRES_DSN not set")
	}

	store, err := NewJobStore(context.Background(), arbor.NewLogger(), &common.PostgresConfig{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestJobStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	request := models.ResearchRequest{Company: "Acme", CompanyURL: "https://acme.example.com", Industry: "Anvils"}

	require.NoError(t, store.CreateJob(ctx, jobID, request))
	require.NoError(t, store.UpdateJob(ctx, jobID, models.JobStatusFailed, "model unavailable"))
	require.NoError(t, store.UpdateJob(ctx, jobID, models.JobStatusFailed, ""))

	job, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "model unavailable", job.Error)
	assert.Equal(t, request, job.Request)

	require.NoError(t, store.StoreReport(ctx, jobID, "# Acme"))
	require.NoError(t, store.StoreReport(ctx, jobID, "# Acme v2"))
	report, err := store.GetReport(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "# Acme v2", report.Report)
}

func TestJobStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := store.GetJob(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.GetReport(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, store.UpdateJob(ctx, missing, models.JobStatusProcessing, ""), interfaces.ErrNotFound)
}

func TestNewJobStore_InvalidDSN(t *testing.T) {
	_, err := NewJobStore(context.Background(), arbor.NewLogger(), &common.PostgresConfig{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
