package tutor

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/gustawsonb-collab/gadugator/internal/provider/mock"
)

type memoryStorages struct {
	mu    sync.Mutex
	byID  map[string]*kv.Memory
	calls atomic.Int32
}

func (m *memoryStorages) storageFor(deviceID string) kv.Storage {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = make(map[string]*kv.Memory)
	}
	st, ok := m.byID[deviceID]
	if !ok {
		st = kv.NewMemory()
		m.byID[deviceID] = st
	}
	return st
}

func newTestManager(clock func() time.Time) (*Manager, *memoryStorages) {
	storages := &memoryStorages{}
	mgr := NewManager(storages.storageFor, Deps{
		Completer: &mock.Completer{Response: replyJSON},
	}, Options{Clock: clock, Location: time.UTC})
	return mgr, storages
}

func TestManager_GetCreatesOnce(t *testing.T) {
	mgr, storages := newTestManager(nil)

	first, err := mgr.Get(context.Background(), "dev_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := mgr.Get(context.Background(), "dev_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected the same session for the same device")
	}
	if got := storages.calls.Load(); got != 1 {
		t.Errorf("storage opened %d times, want 1", got)
	}
	if mgr.Len() != 1 {
		t.Errorf("Len = %d, want 1", mgr.Len())
	}
}

func TestManager_DevicesAreIsolated(t *testing.T) {
	mgr, _ := newTestManager(nil)
	ctx := context.Background()

	a, _ := mgr.Get(ctx, "dev_a")
	b, _ := mgr.Get(ctx, "dev_b")
	if _, err := a.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.Usage().Count != 1 || b.Usage().Count != 0 {
		t.Errorf("usage leaked between devices: a=%d b=%d", a.Usage().Count, b.Usage().Count)
	}
	if len(b.Turns()) != 3 {
		t.Errorf("device b should only have onboarding turns, got %d", len(b.Turns()))
	}
}

func TestManager_ConcurrentGet(t *testing.T) {
	mgr, _ := newTestManager(nil)

	var wg sync.WaitGroup
	sessions := make([]*Session, 50)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := mgr.Get(context.Background(), "dev_shared")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i, s := range sessions {
		if s != sessions[0] {
			t.Fatalf("session %d differs from session 0", i)
		}
	}
	if mgr.Len() != 1 {
		t.Errorf("Len = %d, want 1", mgr.Len())
	}
}

func TestManager_RemoveAndRehydrate(t *testing.T) {
	mgr, _ := newTestManager(nil)
	ctx := context.Background()

	s, _ := mgr.Get(ctx, "dev_a")
	if _, err := s.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mgr.Remove("dev_a")
	if mgr.Lookup("dev_a") != nil {
		t.Fatal("session should be gone after Remove")
	}
	mgr.Remove("dev_a")

	again, _ := mgr.Get(ctx, "dev_a")
	if again == s {
		t.Fatal("expected a fresh session")
	}
	if len(again.Turns()) != 5 {
		t.Errorf("rehydrated %d turns, want 5", len(again.Turns()))
	}
}

func TestManager_EvictIdle(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	mgr, _ := newTestManager(clock)
	ctx := context.Background()

	if _, err := mgr.Get(ctx, "dev_idle"); err != nil {
		t.Fatal(err)
	}
	advance(20 * time.Minute)
	recent, _ := mgr.Get(ctx, "dev_recent")
	recording, _ := mgr.Get(ctx, "dev_recording")
	advance(20 * time.Minute)
	recent.touch()
	if err := recording.StartRecording(nil); err != nil {
		t.Fatal(err)
	}
	advance(40 * time.Minute)
	recent.touch()

	evicted := mgr.EvictIdle(30 * time.Minute)
	if len(evicted) != 1 || evicted[0] != "dev_idle" {
		t.Fatalf("evicted = %v, want [dev_idle]", evicted)
	}
	if mgr.Lookup("dev_recent") == nil {
		t.Error("recently active session was evicted")
	}
	if mgr.Lookup("dev_recording") == nil {
		t.Error("busy session was evicted")
	}
}

func TestManager_CloseAll(t *testing.T) {
	mgr, _ := newTestManager(nil)
	for i := 0; i < 5; i++ {
		if _, err := mgr.Get(context.Background(), "dev_"+strconv.Itoa(i)); err != nil {
			t.Fatal(err)
		}
	}
	mgr.CloseAll()
	if mgr.Len() != 0 {
		t.Errorf("Len = %d after CloseAll", mgr.Len())
	}
}

type fakeJanitor struct {
	calls     atomic.Int32
	olderThan atomic.Int64
}

func (f *fakeJanitor) DeleteStaleDevices(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls.Add(1)
	f.olderThan.Store(int64(olderThan))
	return 2, nil
}

func TestStartSweeper(t *testing.T) {
	mgr, _ := newTestManager(nil)
	if _, err := mgr.Get(context.Background(), "dev_a"); err != nil {
		t.Fatal(err)
	}
	janitor := &fakeJanitor{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartSweeper(ctx, mgr, janitor, SweeperConfig{
		Interval:  10 * time.Millisecond,
		IdleTTL:   time.Nanosecond,
		Retention: 48 * time.Hour,
	})

	deadline := time.Now().Add(2 * time.Second)
	for (mgr.Len() != 0 || janitor.calls.Load() == 0) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mgr.Len() != 0 {
		t.Error("sweeper did not evict the idle session")
	}
	if janitor.calls.Load() == 0 {
		t.Fatal("sweeper did not purge stale devices")
	}
	if got := time.Duration(janitor.olderThan.Load()); got != 48*time.Hour {
		t.Errorf("olderThan = %v, want 48h", got)
	}
}

func TestSweep_ZeroRetentionSkipsPurge(t *testing.T) {
	mgr, _ := newTestManager(nil)
	janitor := &fakeJanitor{}
	sweep(context.Background(), mgr, janitor, SweeperConfig{IdleTTL: time.Minute})
	if janitor.calls.Load() != 0 {
		t.Error("purge must be skipped without a retention window")
	}
}
