package tiered_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/tiered"
)

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l2.data["ami:ami-1"] = []byte("release")

	val, found, err := c.Get(context.Background(), "ami:ami-1")
	if err != nil || !found || string(val) != "release" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if string(l1.data["ami:ami-1"]) != "release" {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_L2ErrorIsMiss(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.getErr = errors.New("nats down")
	c := tiered.New(l1, l2, time.Minute)

	_, found, err := c.Get(context.Background(), "k")
	if err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestTiered_L1Only(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, nil, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "secret", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, _ := c.Get(ctx, "secret")
	if !found || string(val) != "v" {
		t.Fatalf("Get = %q, %v", val, found)
	}
	if err := c.Delete(ctx, "secret"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "secret"); found {
		t.Fatal("expected miss after delete")
	}
}

func TestTiered_GetOrLoad(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		loads.Add(1)
		<-release
		return []byte("loaded"), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "k", time.Minute, load)
			if err != nil {
				t.Error(err)
			}
			results[i] = string(v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n < 1 || n > 2 {
		t.Fatalf("expected shared load, got %d loads", n)
	}
	for i, r := range results {
		if r != "loaded" {
			t.Errorf("result[%d] = %q", i, r)
		}
	}
	if string(l2.data["k"]) != "loaded" {
		t.Fatal("expected L2 populated")
	}

	// Served from cache without loading again.
	v, err := c.GetOrLoad(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return nil, errors.New("should not load")
	})
	if err != nil || string(v) != "loaded" {
		t.Fatalf("cached GetOrLoad = %q, %v", v, err)
	}
}

func TestTiered_GetOrLoadError(t *testing.T) {
	c := tiered.New(newMemCache(), nil, time.Minute)
	wantErr := errors.New("upstream")
	_, err := c.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
}
