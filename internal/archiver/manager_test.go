package archiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dialogport/tg-archiver/internal/logger"
)

// MockSyncer for testing
type MockSyncer struct {
	mu     sync.Mutex
	called bool
	opts   SyncOptions
	Delay  time.Duration
	Err    error
	Result *SyncResult
}

func (m *MockSyncer) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	m.mu.Lock()
	m.called = true
	m.opts = opts
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return &SyncResult{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &SyncResult{}, nil
}

func (m *MockSyncer) Called() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.called
}

func (m *MockSyncer) Opts() SyncOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func waitIdle(t *testing.T, m *SyncManager) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Current() == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("manager did not become idle")
}

func TestSyncManager_Start(t *testing.T) {
	t.Run("starts job successfully", func(t *testing.T) {
		syncer := &MockSyncer{}
		manager := NewSyncManager(syncer, logger.Get())

		job, err := manager.Start(SyncOptions{DialogID: 42, Limit: 100})
		if err != nil {
			t.Fatalf("Start() unexpected error: %v", err)
		}
		if job == nil {
			t.Fatal("Start() returned nil job")
		}
		if job.ID == "" {
			t.Error("job.ID should not be empty")
		}

		waitIdle(t, manager)
		if !syncer.Called() {
			t.Error("Syncer.Sync was not called")
		}
		if syncer.Opts().DialogID != 42 {
			t.Errorf("Syncer received dialog_id %d, want 42", syncer.Opts().DialogID)
		}

		manager.Shutdown()
	})

	t.Run("returns error when already running", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{Delay: 100 * time.Millisecond}, logger.Get())

		if _, err := manager.Start(SyncOptions{}); err != nil {
			t.Fatalf("first Start() unexpected error: %v", err)
		}

		if _, err := manager.Start(SyncOptions{}); !errors.Is(err, ErrSyncAlreadyRunning) {
			t.Errorf("second Start() error = %v, want ErrSyncAlreadyRunning", err)
		}

		manager.Shutdown()
	})

	t.Run("records failed run", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{Err: errors.New("boom")}, logger.Get())

		if _, err := manager.Start(SyncOptions{}); err != nil {
			t.Fatalf("Start() error: %v", err)
		}

		waitIdle(t, manager)

		last := manager.Last()
		if last == nil {
			t.Fatal("Last() should return the finished job")
		}
		if last.State != JobStateFailed {
			t.Errorf("last.State = %s, want %s", last.State, JobStateFailed)
		}
		if last.Error == "" {
			t.Error("last.Error should be set")
		}

		manager.Shutdown()
	})
}

func TestSyncManager_Cancel(t *testing.T) {
	t.Run("cancels running job", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{Delay: time.Second}, logger.Get())

		if _, err := manager.Start(SyncOptions{}); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		if manager.Current() == nil {
			t.Fatal("Current() should return job before cancel")
		}

		if !manager.Cancel() {
			t.Error("Cancel() should return true for a running job")
		}

		waitIdle(t, manager)

		last := manager.Last()
		if last == nil || last.State != JobStateCancelled {
			t.Errorf("last job state = %v, want %s", last, JobStateCancelled)
		}
	})

	t.Run("safe to call when not running", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{}, logger.Get())
		if manager.Cancel() {
			t.Error("Cancel() should return false when nothing is running")
		}
	})
}

func TestSyncManager_Current(t *testing.T) {
	t.Run("returns nil when not running", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{}, logger.Get())
		if manager.Current() != nil {
			t.Error("Current() should return nil when not running")
		}
	})

	t.Run("returns job when running", func(t *testing.T) {
		manager := NewSyncManager(&MockSyncer{Delay: 100 * time.Millisecond}, logger.Get())

		job, _ := manager.Start(SyncOptions{})
		current := manager.Current()
		if current == nil {
			t.Fatal("Current() should return job when running")
		}
		if current.ID != job.ID {
			t.Error("Current() should return the same job")
		}

		manager.Shutdown()
	})
}

func TestSyncManager_ConcurrentAccess(t *testing.T) {
	manager := NewSyncManager(&MockSyncer{}, logger.Get())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Start(SyncOptions{})
			manager.Current()
			manager.Cancel()
		}()
	}
	wg.Wait()
	manager.Shutdown()
}
