package tiered_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/resflow/toolplane/internal/adapter/tiered"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["req-1"] = []byte("resp1")

	val, found, err := c.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "resp1" {
		t.Fatalf("expected resp1, got %s", val)
	}
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l2.data["req-2"] = []byte("resp2")

	val, found, err := c.Get(ctx, "req-2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "resp2" {
		t.Fatalf("expected resp2, got %s", val)
	}

	if _, ok := l1.data["req-2"]; !ok {
		t.Error("L2 hit did not backfill L1")
	}
	if l1.ttls["req-2"] != 5*time.Minute {
		t.Errorf("backfill TTL = %v, want 5m", l1.ttls["req-2"])
	}
}

func TestTiered_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), time.Minute)

	_, found, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

// slowL2 counts Get calls and holds each one long enough for
// concurrent callers to pile up on the same key.
type slowL2 struct {
	*memCache
	mu   sync.Mutex
	gets int
}

func (s *slowL2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	return s.memCache.Get(ctx, key)
}

func TestTiered_ConcurrentMissesShareL2Lookup(t *testing.T) {
	l2 := &slowL2{memCache: newMemCache()}
	l2.data["req-hot"] = []byte("hot")
	c := tiered.New(newMemCache(), l2, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, found, err := c.Get(ctx, "req-hot")
			if err != nil || !found || string(val) != "hot" {
				t.Errorf("Get = %q, %v, %v", val, found, err)
			}
		}()
	}
	wg.Wait()

	if l2.gets != 1 {
		t.Errorf("L2 lookups = %d, want 1", l2.gets)
	}
}

func TestTiered_SetCapsL1TTL(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "req-3", []byte("resp3"), 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	if l1.ttls["req-3"] != time.Minute {
		t.Errorf("L1 TTL = %v, want 1m", l1.ttls["req-3"])
	}
	if l2.ttls["req-3"] != 24*time.Hour {
		t.Errorf("L2 TTL = %v, want 24h", l2.ttls["req-3"])
	}
}

func TestTiered_DeleteBothLevels(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	l1.data["req-4"] = []byte("x")
	l2.data["req-4"] = []byte("x")

	if err := c.Delete(ctx, "req-4"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["req-4"]; ok {
		t.Error("still in L1")
	}
	if _, ok := l2.data["req-4"]; ok {
		t.Error("still in L2")
	}
}
