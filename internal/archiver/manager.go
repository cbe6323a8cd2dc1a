package archiver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialogport/tg-archiver/internal/logger"
)

var ErrSyncAlreadyRunning = errors.New("a sync is already running")

// JobState is the lifecycle state of a sync job.
type JobState string

const (
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// Job describes one sync run.
type Job struct {
	ID         string      `json:"id"`
	State      JobState    `json:"state"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Options    SyncOptions `json:"-"`
	Result     *SyncResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Syncer runs one archive pass. Satisfied by *Service.
type Syncer interface {
	Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error)
}

// SyncManager serializes sync runs: at most one at a time,
// triggered by the API or by the interval scheduler.
type SyncManager struct {
	service Syncer
	log     *logger.Logger

	mu      sync.Mutex
	current *Job
	cancel  context.CancelFunc
	last    *Job

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSyncManager creates a sync manager around the given service.
func NewSyncManager(service Syncer, log *logger.Logger) *SyncManager {
	return &SyncManager{
		service: service,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches a background sync run. Returns the job, or
// ErrSyncAlreadyRunning when a run is in flight.
func (m *SyncManager) Start(opts SyncOptions) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrSyncAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		State:     JobStateRunning,
		StartedAt: time.Now(),
		Options:   opts,
	}
	m.current = job
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx, job)

	m.log.Info().Str("job_id", job.ID).Int64("dialog_id", opts.DialogID).Msg("sync job started")
	return job, nil
}

func (m *SyncManager) run(ctx context.Context, job *Job) {
	defer m.wg.Done()

	result, err := m.service.Sync(ctx, job.Options)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.FinishedAt = &now
	job.Result = result

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		job.State = JobStateCancelled
	case err != nil:
		job.State = JobStateFailed
		job.Error = err.Error()
		m.log.Error().Err(err).Str("job_id", job.ID).Msg("sync job failed")
	case ctx.Err() != nil:
		job.State = JobStateCancelled
	default:
		job.State = JobStateCompleted
	}

	m.last = job
	m.current = nil
	m.cancel = nil
}

// Cancel aborts the running job, if any.
func (m *SyncManager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	m.cancel()
	return true
}

// Current returns the running job, or nil.
func (m *SyncManager) Current() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the most recently finished job, or nil.
func (m *SyncManager) Last() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Schedule starts a ticker that triggers a full sync every interval.
// A zero interval disables scheduling. Overlapping runs are skipped.
func (m *SyncManager) Schedule(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if _, err := m.Start(SyncOptions{}); err != nil {
					if errors.Is(err, ErrSyncAlreadyRunning) {
						m.log.Debug().Msg("scheduled sync skipped, previous run still active")
						continue
					}
					m.log.Error().Err(err).Msg("scheduled sync failed to start")
				}
			}
		}
	}()

	m.log.Info().Dur("interval", interval).Msg("sync scheduler started")
}

// Shutdown cancels any running job and waits for goroutines to finish.
func (m *SyncManager) Shutdown() {
	close(m.stop)
	m.Cancel()
	m.wg.Wait()
}
