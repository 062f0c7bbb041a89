// -----------------------------------------------------------------------
// Broadcast Manager - per-job subscriber sets and status fan-out
// -----------------------------------------------------------------------

package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/dossier/internal/models"
)

const defaultSendTimeout = 5 * time.Second

// Subscriber is a live observer of one job's status events
type Subscriber interface {
	// ID identifies the subscriber in logs
	ID() string
	// Send delivers one event; implementations must honour ctx's deadline
	Send(ctx context.Context, event models.StatusEvent) error
	// Close terminates the underlying connection
	Close() error
}

// Options configures delivery behaviour
type Options struct {
	SendTimeout      time.Duration // bound on a single subscriber send
	ProgressInterval time.Duration // minimum gap between progress events per job (0 disables throttling)
}

// subscription tracks what a subscriber has already been shown
type subscription struct {
	sub  Subscriber
	last models.JobStatus // guarded by jobSubscribers.sendMu
}

type jobSubscribers struct {
	// sendMu serialises deliveries for one job so every subscriber sees the same order
	sendMu  sync.Mutex
	subs    map[Subscriber]*subscription // guarded by Manager.mu
	limiter *rate.Limiter                // guarded by sendMu
}

// Manager maintains, per job id, the set of attached subscribers
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*jobSubscribers
	opts   Options
	logger arbor.ILogger
}

// NewManager creates an empty broadcast manager
func NewManager(logger arbor.ILogger, opts Options) *Manager {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Manager{
		jobs:   make(map[string]*jobSubscribers),
		opts:   opts,
		logger: logger,
	}
}

// Attach adds sub to jobID's set. Attaching the same instance twice is a no-op.
func (m *Manager) Attach(jobID string, sub Subscriber) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		entry = &jobSubscribers{subs: make(map[Subscriber]*subscription)}
		if m.opts.ProgressInterval > 0 {
			entry.limiter = rate.NewLimiter(rate.Every(m.opts.ProgressInterval), 1)
		}
		m.jobs[jobID] = entry
	}
	if _, exists := entry.subs[sub]; !exists {
		entry.subs[sub] = &subscription{sub: sub}
	}
	count := len(entry.subs)
	m.mu.Unlock()

	m.logger.Debug().
		Str("job_id", jobID).
		Str("subscriber", sub.ID()).
		Int("subscribers", count).
		Msg("Subscriber attached")
}

// Detach removes sub from jobID's set. Detaching an absent subscriber is a no-op.
func (m *Manager) Detach(sub Subscriber, jobID string) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, exists := entry.subs[sub]; !exists {
		m.mu.Unlock()
		return
	}
	delete(entry.subs, sub)
	remaining := len(entry.subs)
	if remaining == 0 {
		delete(m.jobs, jobID)
	}
	m.mu.Unlock()

	m.logger.Debug().
		Str("job_id", jobID).
		Str("subscriber", sub.ID()).
		Int("subscribers", remaining).
		Msg("Subscriber detached")
}

// Count returns the number of subscribers attached to jobID
func (m *Manager) Count(jobID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.jobs[jobID]; ok {
		return len(entry.subs)
	}
	return 0
}

// Broadcast delivers event to every subscriber currently attached to jobID and
// returns how many deliveries succeeded. With no subscribers the event is dropped.
// Delivery failures are logged and the failing subscriber is detached; they never
// reach the caller or affect other subscribers.
func (m *Manager) Broadcast(ctx context.Context, jobID string, event models.StatusEvent) int {
	m.mu.RLock()
	entry, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.sendMu.Lock()
	defer entry.sendMu.Unlock()

	if event.IsProgress() && entry.limiter != nil && !entry.limiter.Allow() {
		return 0
	}

	m.mu.RLock()
	targets := make([]*subscription, 0, len(entry.subs))
	for _, s := range entry.subs {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	if len(targets) == 1 {
		if m.deliver(ctx, jobID, targets[0], event) {
			return 1
		}
		return 0
	}

	var (
		wg        sync.WaitGroup
		delivered int
		countMu   sync.Mutex
	)
	for _, target := range targets {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if m.deliver(ctx, jobID, s, event) {
				countMu.Lock()
				delivered++
				countMu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	return delivered
}

// Replay sends event to a single attached subscriber, ordered with respect to
// broadcasts for the same job. Used to deliver the current snapshot on attach.
// Returns false when the subscriber is not attached, the event would be out of
// order for it, or delivery failed.
func (m *Manager) Replay(ctx context.Context, jobID string, sub Subscriber, event models.StatusEvent) bool {
	m.mu.RLock()
	entry, ok := m.jobs[jobID]
	var target *subscription
	if ok {
		target = entry.subs[sub]
	}
	m.mu.RUnlock()
	if target == nil {
		return false
	}

	entry.sendMu.Lock()
	defer entry.sendMu.Unlock()
	return m.deliver(ctx, jobID, target, event)
}

// deliver sends to one subscription; callers hold the job's sendMu
func (m *Manager) deliver(ctx context.Context, jobID string, s *subscription, event models.StatusEvent) bool {
	// Never show a subscriber a regression or a second terminal status
	if s.last != "" && !s.last.CanTransitionTo(event.Status) {
		m.logger.Debug().
			Str("job_id", jobID).
			Str("subscriber", s.sub.ID()).
			Str("last_status", string(s.last)).
			Str("status", string(event.Status)).
			Msg("Skipping out-of-order status event")
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()

	if err := s.sub.Send(sendCtx, event); err != nil {
		m.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("subscriber", s.sub.ID()).
			Str("status", string(event.Status)).
			Msg("Failed to deliver status event - detaching subscriber")
		m.Detach(s.sub, jobID)
		_ = s.sub.Close()
		return false
	}

	s.last = event.Status
	return true
}

// CloseAll closes every attached subscriber across every job and empties the manager.
// Close errors are ignored.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = make(map[string]*jobSubscribers)
	m.mu.Unlock()

	closed := 0
	for _, entry := range jobs {
		for sub := range entry.subs {
			_ = sub.Close()
			closed++
		}
	}

	if closed > 0 {
		m.logger.Info().Int("subscribers", closed).Msg("Closed all status subscribers")
	}
}
