package querylog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"localdns/pkg/logging"
	"localdns/pkg/storage"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	logs      []*storage.QueryLog
	failCount int // fail the first N inserts

	retention string
	cleaned   []int
	cleanErr  error
}

func newMockStore() *mockStore {
	return &mockStore{}
}

func (m *mockStore) LogQuery(ctx context.Context, entry *storage.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCount > 0 {
		m.failCount--
		return errors.New("simulated storage error")
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *mockStore) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cleanErr != nil {
		return 0, m.cleanErr
	}
	m.cleaned = append(m.cleaned, retentionDays)
	return 0, nil
}

func (m *mockStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retention == "" {
		return "", false, nil
	}
	return m.retention, true, nil
}

func (m *mockStore) Logs() []*storage.QueryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.QueryLog{}, m.logs...)
}

func (m *mockStore) Cleanups() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.cleaned...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorker_PersistsInSubmissionOrder(t *testing.T) {
	store := newMockStore()
	w := NewWorker(store, logging.NewDefault())
	defer w.Close()

	const n = 100
	for i := 0; i < n; i++ {
		w.Submit(&storage.QueryLog{
			QueryName:  fmt.Sprintf("host%03d.example.com", i),
			QueryType:  "A",
			ResultType: storage.ResultLocal,
		})
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(store.Logs()) == n
	})

	logs := store.Logs()
	for i, entry := range logs {
		want := fmt.Sprintf("host%03d.example.com", i)
		if entry.QueryName != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, entry.QueryName)
		}
	}
}

func TestWorker_FailedInsertSkipsOnlyThatEvent(t *testing.T) {
	store := newMockStore()
	store.failCount = 1

	w := NewWorker(store, logging.NewDefault())
	defer w.Close()

	w.Submit(&storage.QueryLog{QueryName: "first.example.com", QueryType: "A", ResultType: storage.ResultError})
	w.Submit(&storage.QueryLog{QueryName: "second.example.com", QueryType: "A", ResultType: storage.ResultLocal})

	waitFor(t, 2*time.Second, func() bool {
		_, persisted, failed := w.Stats()
		return persisted == 1 && failed == 1
	})

	logs := store.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(logs))
	}
	if logs[0].QueryName != "second.example.com" {
		t.Errorf("expected second.example.com to survive, got %s", logs[0].QueryName)
	}
}

func TestWorker_CloseDrainsQueue(t *testing.T) {
	store := newMockStore()
	w := NewWorker(store, logging.NewDefault())

	const n = 50
	for i := 0; i < n; i++ {
		w.Submit(&storage.QueryLog{
			QueryName:  fmt.Sprintf("drain%02d.example.com", i),
			QueryType:  "AAAA",
			ResultType: storage.ResultForwarded,
		})
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := len(store.Logs()); got != n {
		t.Errorf("expected all %d entries persisted after Close, got %d", n, got)
	}
}

func TestWorker_SubmitAfterCloseIsDiscarded(t *testing.T) {
	store := newMockStore()
	w := NewWorker(store, logging.NewDefault())

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Must neither panic nor persist.
	w.Submit(&storage.QueryLog{QueryName: "late.example.com", QueryType: "A", ResultType: storage.ResultLocal})

	if got := len(store.Logs()); got != 0 {
		t.Errorf("expected no entries after close, got %d", got)
	}
}

func TestWorker_ConcurrentSubmitters(t *testing.T) {
	store := newMockStore()
	w := NewWorker(store, logging.NewDefault())

	const goroutines = 8
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				w.Submit(&storage.QueryLog{
					QueryName:  fmt.Sprintf("g%d-%d.example.com", g, i),
					QueryType:  "A",
					ResultType: storage.ResultForwarded,
				})
			}
		}(g)
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := len(store.Logs()); got != goroutines*perGoroutine {
		t.Errorf("expected %d entries, got %d", goroutines*perGoroutine, got)
	}
}

func TestSweeper_UsesStoredRetention(t *testing.T) {
	store := newMockStore()
	store.retention = "30"

	s := NewSweeper(store, logging.NewDefault(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return len(store.Cleanups()) >= 2
	})
	cancel()
	<-done

	for _, days := range store.Cleanups() {
		if days != 30 {
			t.Fatalf("expected retention 30, got %d", days)
		}
	}
}

func TestSweeper_RetentionFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"missing setting", "", DefaultRetentionDays},
		{"not a number", "soon", DefaultRetentionDays},
		{"zero", "0", DefaultRetentionDays},
		{"negative", "-3", DefaultRetentionDays},
		{"valid", "14", 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.retention = tt.value

			s := NewSweeper(store, logging.NewDefault(), time.Hour)
			if got := s.retentionDays(context.Background()); got != tt.want {
				t.Errorf("retentionDays(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestSweeper_CleanupErrorDoesNotStopRun(t *testing.T) {
	store := newMockStore()
	store.cleanErr = errors.New("disk unhappy")

	s := NewSweeper(store, logging.NewDefault(), 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Must return when the context ends despite every sweep failing.
	s.Run(ctx)
}
