package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/interfaces"
	"github.com/ternarybob/dossier/internal/models"
)

func newTestRegistry(opts Options) *Registry {
	return NewRegistry(arbor.NewLogger(), opts)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(Options{})

	require.NoError(t, r.Create("job-1", models.ResearchRequest{Company: "Acme"}))

	record, err := r.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, record.Status)
	assert.Equal(t, "Acme", record.Company())
	assert.False(t, record.LastUpdate.IsZero())
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := newTestRegistry(Options{})
	require.NoError(t, r.Create("job-1", models.ResearchRequest{Company: "Acme"}))

	err := r.Create("job-1", models.ResearchRequest{Company: "Other"})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	record, _ := r.Get("job-1")
	assert.Equal(t, "Acme", record.Company(), "original request snapshot must be untouched")
}

func TestRegistry_GetUnknownDoesNotMaterialise(t *testing.T) {
	r := newTestRegistry(Options{})

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	r := newTestRegistry(Options{})

	_, err := r.Update("missing", Mutation{Status: models.JobStatusProcessing})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRegistry_UpdateRefreshesLastUpdate(t *testing.T) {
	r := newTestRegistry(Options{})
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	require.NoError(t, r.Create("job-1", models.ResearchRequest{Company: "Acme"}))
	clock = clock.Add(time.Minute)

	record, err := r.Update("job-1", Mutation{Status: models.JobStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, clock, record.LastUpdate)
}

func TestRegistry_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Mutation
		wantErr bool
	}{
		{
			name: "pending to processing to completed",
			steps: []Mutation{
				{Status: models.JobStatusProcessing},
				{Status: models.JobStatusCompleted, Report: "# Report"},
			},
		},
		{
			name: "pending straight to failed",
			steps: []Mutation{
				{Status: models.JobStatusFailed, Error: "boom"},
			},
		},
		{
			name: "processing back to pending",
			steps: []Mutation{
				{Status: models.JobStatusProcessing},
				{Status: models.JobStatusPending},
			},
			wantErr: true,
		},
		{
			name: "completed is absorbing",
			steps: []Mutation{
				{Status: models.JobStatusCompleted, Report: "# Report"},
				{Status: models.JobStatusFailed, Error: "late"},
			},
			wantErr: true,
		},
		{
			name: "report without completion",
			steps: []Mutation{
				{Status: models.JobStatusProcessing, Report: "# Report"},
			},
			wantErr: true,
		},
		{
			name: "error without failure",
			steps: []Mutation{
				{Status: models.JobStatusCompleted, Report: "# Report", Error: "boom"},
			},
			wantErr: true,
		},
		{
			name: "completion without report",
			steps: []Mutation{
				{Status: models.JobStatusCompleted},
			},
			wantErr: true,
		},
		{
			name: "unknown status",
			steps: []Mutation{
				{Status: models.JobStatus("paused")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(Options{})
			require.NoError(t, r.Create("job", models.ResearchRequest{Company: "Acme"}))

			var err error
			for _, step := range tt.steps {
				if _, err = r.Update("job", step); err != nil {
					break
				}
			}

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}

			record, _ := r.Get("job")
			assert.False(t, record.Report != "" && record.Error != "", "report and error must never both be set")
		})
	}
}

func TestRegistry_EvictByAge(t *testing.T) {
	r := newTestRegistry(Options{MaxAge: time.Hour})
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	require.NoError(t, r.Create("done", models.ResearchRequest{Company: "A"}))
	_, err := r.Update("done", Mutation{Status: models.JobStatusFailed, Error: "boom"})
	require.NoError(t, err)
	require.NoError(t, r.Create("live", models.ResearchRequest{Company: "B"}))

	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Evict())

	_, err = r.Get("done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("live")
	assert.NoError(t, err, "live jobs are never evicted")
}

func TestRegistry_CapacityEvictsOldestTerminal(t *testing.T) {
	r := newTestRegistry(Options{MaxEntries: 2})
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, r.Create(id, models.ResearchRequest{Company: id}))
		clock = clock.Add(time.Second)
		_, err := r.Update(id, Mutation{Status: models.JobStatusCompleted, Report: "r"})
		require.NoError(t, err)
	}

	require.NoError(t, r.Create("job-3", models.ResearchRequest{Company: "c"}))
	assert.Equal(t, 2, r.Len())

	_, err := r.Get("job-1")
	assert.ErrorIs(t, err, ErrNotFound, "oldest terminal job is evicted first")
	_, err = r.Get("job-2")
	assert.NoError(t, err)
}

func TestRegistry_StartWithoutPolicyIsNoop(t *testing.T) {
	r := newTestRegistry(Options{Schedule: "@every 1m"})
	require.NoError(t, r.Start())
	assert.Nil(t, r.cron)
	r.Stop()
}

func TestRegistry_StartRejectsBadSchedule(t *testing.T) {
	r := newTestRegistry(Options{Schedule: "not a schedule", MaxAge: time.Minute})
	assert.Error(t, r.Start())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			if err := r.Create(id, models.ResearchRequest{Company: id}); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			if _, err := r.Update(id, Mutation{Status: models.JobStatusProcessing}); err != nil {
				t.Errorf("update %s: %v", id, err)
			}
			_, _ = r.Get(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}
