package kbsync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/batalabs/knowd/internal/domain"
)

func TestWithLock_Exclusive(t *testing.T) {
	root := t.TempDir()
	m := NewManager()

	h, err := m.WithLock(context.Background(), root)
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, LockFileName)); err != nil {
		t.Fatalf("lockfile missing: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := m.WithLock(ctx, root); domain.KindOf(err) != domain.KindKBBusy {
		t.Fatalf("second WithLock kind = %v, want KBBusy", domain.KindOf(err))
	}

	h.Release()
	if _, err := os.Stat(filepath.Join(root, LockFileName)); !os.IsNotExist(err) {
		t.Fatalf("lockfile not removed after release: %v", err)
	}

	h2, err := m.WithLock(context.Background(), root)
	if err != nil {
		t.Fatalf("WithLock after release: %v", err)
	}
	h2.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	m := NewManager()
	h, err := m.WithLock(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	h.Release()
}

func TestWithLock_FIFOOrder(t *testing.T) {
	root := t.TempDir()
	m := NewManager()

	first, err := m.WithLock(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	started := make(chan struct{}, 3)

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			started <- struct{}{}
			h, err := m.WithLock(context.Background(), root)
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			h.Release()
		}(i)
		<-started
		// Let the goroutine reach the queue before starting the next one.
		time.Sleep(50 * time.Millisecond)
	}

	first.Release()
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("acquisition order = %v, want [1 2 3]", order)
	}
}

func TestWithLock_IndependentRoots(t *testing.T) {
	m := NewManager()
	h1, err := m.WithLock(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer h1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h2, err := m.WithLock(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("lock on a different root should not block: %v", err)
	}
	h2.Release()
}

func TestWithLock_StaleFileReclaimed(t *testing.T) {
	root := t.TempDir()
	// A lockfile from a dead process.
	stale := []byte(`{"pid": 1073741824, "started_at": "2026-01-01T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(root, LockFileName), stale, 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := NewManager().WithLock(ctx, root)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	h.Release()
}
