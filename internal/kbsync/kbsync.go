// Package kbsync serializes all mutation of a knowledge base working tree.
// Two layers guard each KB root: an in-process FIFO queue, so concurrent
// pipeline runs in one bot wait in arrival order, and an on-disk lockfile,
// so a hub or second process touching the same tree is excluded too.
package kbsync

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/lockfile"
)

// LockFileName is the on-disk lock inside each KB root.
const LockFileName = ".sync.lock"

// Manager hands out exclusive access to KB roots.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queue
}

type queue struct {
	held    bool
	waiters []chan struct{}
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*queue)}
}

// Handle represents held exclusive access to one KB root.
type Handle struct {
	mgr      *Manager
	key      string
	file     *lockfile.Lock
	released bool
	relMu    sync.Mutex
}

// WithLock acquires exclusive access to kbRoot, waiting in FIFO order
// behind earlier callers. The context deadline bounds the total wait;
// expiry yields a KBBusy error. Always acquired in-process first, then
// on disk, so two processes cannot deadlock against each other.
func (m *Manager) WithLock(ctx context.Context, kbRoot string) (*Handle, error) {
	key, err := filepath.Abs(kbRoot)
	if err != nil {
		return nil, domain.E(domain.KindInternal, "resolve kb root", err)
	}

	if err := m.enqueue(ctx, key); err != nil {
		return nil, err
	}

	fl, err := lockfile.Acquire(ctx, filepath.Join(key, LockFileName))
	if err != nil {
		m.release(key)
		if ctx.Err() != nil {
			return nil, domain.E(domain.KindKBBusy, "knowledge base is busy", ctx.Err())
		}
		return nil, domain.E(domain.KindKBBusy, "knowledge base is busy", err)
	}

	return &Handle{mgr: m, key: key, file: fl}, nil
}

// Release gives up the lock. Safe to call more than once.
func (h *Handle) Release() {
	h.relMu.Lock()
	defer h.relMu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.file.Unlock()
	h.mgr.release(h.key)
}

// enqueue takes the in-process slot for key, FIFO.
func (m *Manager) enqueue(ctx context.Context, key string) error {
	m.mu.Lock()
	q := m.queues[key]
	if q == nil {
		q = &queue{}
		m.queues[key] = q
	}
	if !q.held && len(q.waiters) == 0 {
		q.held = true
		m.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		m.abandon(key, ready)
		return domain.E(domain.KindKBBusy, "knowledge base is busy", ctx.Err())
	}
}

// release passes the slot to the next waiter, if any.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[key]
	if q == nil {
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	q.held = false
	delete(m.queues, key)
}

// abandon removes a timed-out waiter. If the slot was handed to it in the
// race window, pass it on.
func (m *Manager) abandon(key string, ready chan struct{}) {
	m.mu.Lock()
	q := m.queues[key]
	if q != nil {
		for i, w := range q.waiters {
			if w == ready {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				m.mu.Unlock()
				return
			}
		}
	}
	m.mu.Unlock()
	// Not in the queue: the slot was already granted. Release it.
	m.release(key)
}
