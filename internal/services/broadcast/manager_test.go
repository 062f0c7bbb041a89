package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/models"
)

// recordingSubscriber captures delivered events
type recordingSubscriber struct {
	id      string
	mu      sync.Mutex
	events  []models.StatusEvent
	sendErr error
	block   bool
	closed  atomic.Bool
}

func newRecorder(id string) *recordingSubscriber {
	return &recordingSubscriber{id: id}
}

func (s *recordingSubscriber) ID() string { return s.id }

func (s *recordingSubscriber) Send(ctx context.Context, event models.StatusEvent) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSubscriber) Close() error {
	s.closed.Store(true)
	return errors.New("already closed")
}

func (s *recordingSubscriber) statuses() []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.JobStatus, len(s.events))
	for i, e := range s.events {
		out[i] = e.Status
	}
	return out
}

func newTestManager(opts Options) *Manager {
	return NewManager(arbor.NewLogger(), opts)
}

func event(jobID string, status models.JobStatus) models.StatusEvent {
	return models.NewStatusEvent(jobID, status, string(status))
}

func TestManager_BroadcastWithoutSubscribersIsNoop(t *testing.T) {
	m := newTestManager(Options{})

	delivered := m.Broadcast(context.Background(), "job", event("job", models.JobStatusProcessing))
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, m.Count("job"))
}

func TestManager_AttachIsIdempotent(t *testing.T) {
	m := newTestManager(Options{})
	sub := newRecorder("a")

	m.Attach("job", sub)
	m.Attach("job", sub)
	assert.Equal(t, 1, m.Count("job"))

	m.Broadcast(context.Background(), "job", event("job", models.JobStatusProcessing))
	assert.Len(t, sub.statuses(), 1, "an instance attached twice receives each event once")
}

func TestManager_TwoSubscribersSeeIdenticalOrder(t *testing.T) {
	m := newTestManager(Options{})
	a, b := newRecorder("a"), newRecorder("b")
	m.Attach("job", a)
	m.Attach("job", b)

	ctx := context.Background()
	m.Broadcast(ctx, "job", event("job", models.JobStatusPending))
	m.Broadcast(ctx, "job", event("job", models.JobStatusProcessing))
	m.Broadcast(ctx, "job", event("job", models.JobStatusCompleted))

	want := []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted}
	assert.Equal(t, want, a.statuses())
	assert.Equal(t, want, b.statuses())
}

func TestManager_FailingSubscriberDoesNotAffectOthers(t *testing.T) {
	m := newTestManager(Options{})
	good := newRecorder("good")
	bad := newRecorder("bad")
	bad.sendErr = errors.New("connection reset")

	m.Attach("job", good)
	m.Attach("job", bad)

	delivered := m.Broadcast(context.Background(), "job", event("job", models.JobStatusProcessing))
	assert.Equal(t, 1, delivered)
	assert.Len(t, good.statuses(), 1)
	assert.True(t, bad.closed.Load(), "failed subscriber is closed")
	assert.Equal(t, 1, m.Count("job"), "failed subscriber is detached")
}

func TestManager_SlowSubscriberIsBounded(t *testing.T) {
	m := newTestManager(Options{SendTimeout: 50 * time.Millisecond})
	fast := newRecorder("fast")
	slow := newRecorder("slow")
	slow.block = true

	m.Attach("job", fast)
	m.Attach("job", slow)

	start := time.Now()
	m.Broadcast(context.Background(), "job", event("job", models.JobStatusProcessing))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, fast.statuses(), 1)
	assert.Equal(t, 1, m.Count("job"))
}

func TestManager_DoubleDetach(t *testing.T) {
	m := newTestManager(Options{})
	a, b := newRecorder("a"), newRecorder("b")
	m.Attach("job", a)
	m.Attach("job", b)

	m.Detach(a, "job")
	m.Detach(a, "job")
	m.Detach(a, "other-job")

	m.Broadcast(context.Background(), "job", event("job", models.JobStatusProcessing))
	assert.Empty(t, a.statuses())
	assert.Len(t, b.statuses(), 1)
}

func TestManager_JobsAreIsolated(t *testing.T) {
	m := newTestManager(Options{})
	a, b := newRecorder("a"), newRecorder("b")
	m.Attach("job-a", a)
	m.Attach("job-b", b)

	m.Broadcast(context.Background(), "job-a", event("job-a", models.JobStatusProcessing))
	assert.Len(t, a.statuses(), 1)
	assert.Empty(t, b.statuses())
}

func TestManager_NoEventsAfterTerminal(t *testing.T) {
	m := newTestManager(Options{})
	sub := newRecorder("a")
	m.Attach("job", sub)
	ctx := context.Background()

	m.Broadcast(ctx, "job", event("job", models.JobStatusFailed))
	m.Broadcast(ctx, "job", event("job", models.JobStatusFailed))
	m.Broadcast(ctx, "job", event("job", models.JobStatusProcessing))

	assert.Equal(t, []models.JobStatus{models.JobStatusFailed}, sub.statuses())
}

func TestManager_ReplayOrderedWithBroadcast(t *testing.T) {
	m := newTestManager(Options{})
	sub := newRecorder("late")
	m.Attach("job", sub)
	ctx := context.Background()

	// A completed broadcast wins the race against a stale processing snapshot
	m.Broadcast(ctx, "job", event("job", models.JobStatusCompleted))
	ok := m.Replay(ctx, "job", sub, event("job", models.JobStatusProcessing))

	assert.False(t, ok)
	assert.Equal(t, []models.JobStatus{models.JobStatusCompleted}, sub.statuses())
}

func TestManager_ReplayRequiresAttach(t *testing.T) {
	m := newTestManager(Options{})
	sub := newRecorder("a")

	assert.False(t, m.Replay(context.Background(), "job", sub, event("job", models.JobStatusPending)))
	assert.Empty(t, sub.statuses())
}

func TestManager_ProgressThrottling(t *testing.T) {
	m := newTestManager(Options{ProgressInterval: time.Hour})
	sub := newRecorder("a")
	m.Attach("job", sub)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		progress := event("job", models.JobStatusProcessing)
		progress.Stage = fmt.Sprintf("stage-%d", i)
		m.Broadcast(ctx, "job", progress)
	}
	m.Broadcast(ctx, "job", event("job", models.JobStatusCompleted))

	assert.Equal(t, []models.JobStatus{models.JobStatusProcessing, models.JobStatusCompleted}, sub.statuses(),
		"progress is throttled, terminal status never is")
}

func TestManager_CloseAll(t *testing.T) {
	m := newTestManager(Options{})
	subs := []*recordingSubscriber{newRecorder("a"), newRecorder("b"), newRecorder("c")}
	m.Attach("job-1", subs[0])
	m.Attach("job-1", subs[1])
	m.Attach("job-2", subs[2])

	m.CloseAll()

	for _, s := range subs {
		assert.True(t, s.closed.Load(), "subscriber %s closed", s.id)
	}
	assert.Equal(t, 0, m.Count("job-1"))
	assert.Equal(t, 0, m.Count("job-2"))
}

func TestManager_ConcurrentAttachDetachBroadcast(t *testing.T) {
	m := newTestManager(Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		sub := newRecorder(fmt.Sprintf("s-%d", i))
		go func() {
			defer wg.Done()
			m.Attach("job", sub)
			m.Detach(sub, "job")
		}()
		go func() {
			defer wg.Done()
			m.Broadcast(ctx, "job", event("job", models.JobStatusProcessing))
		}()
	}
	wg.Wait()

	require.Equal(t, 0, m.Count("job"))
}
