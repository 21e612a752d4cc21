// Package aggregate coalesces a user's rapid-fire chat events into one
// MessageGroup. A group flushes when the user goes quiet for the idle
// window, which resets on every new event. Album members share a
// media-group id and flush on their own short window instead of waiting
// out the full idle timer.
package aggregate

import (
	"sync"
	"time"

	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/domain"
)

// defaultMediaIdle is the flush window for albums. Telegram delivers the
// members of one media group within a couple of seconds of each other.
const defaultMediaIdle = 2 * time.Second

// Aggregator buffers events per user and emits groups on its output
// channel. A single consumer drains Groups; Add is safe from any
// goroutine.
type Aggregator struct {
	idle      time.Duration
	mediaIdle time.Duration
	out       chan domain.MessageGroup
	logger    *config.Logger

	mu      sync.Mutex
	buffers map[int64]*buffer  // keyed by user
	albums  map[string]*buffer // keyed by media-group id
	closed  bool
	// sends covers the gap between taking a buffer and the channel send,
	// so Close never closes the channel under an in-flight flush.
	sends sync.WaitGroup
}

// buffer is one pending batch of events plus the timer that will flush it.
type buffer struct {
	userID int64
	events []domain.IncomingEvent
	timer  *time.Timer
}

// New creates an aggregator with the given idle window.
func New(idle time.Duration, logger *config.Logger) *Aggregator {
	if idle <= 0 {
		idle = 30 * time.Second
	}
	mediaIdle := defaultMediaIdle
	if idle < mediaIdle {
		mediaIdle = idle
	}
	return &Aggregator{
		idle:      idle,
		mediaIdle: mediaIdle,
		out:       make(chan domain.MessageGroup, 16),
		logger:    logger,
		buffers:   make(map[int64]*buffer),
		albums:    make(map[string]*buffer),
	}
}

// Groups is the output channel. Closed by Close after the last flush.
func (a *Aggregator) Groups() <-chan domain.MessageGroup {
	return a.out
}

// Add buffers one event and (re)arms its batch timer. Album members go to
// the media-group buffer; everything else to the user's idle buffer.
// Events arriving after Close are dropped.
func (a *Aggregator) Add(ev domain.IncomingEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if id := ev.MediaGroupID; id != "" {
		buf, ok := a.albums[id]
		if !ok {
			buf = &buffer{userID: ev.UserID}
			a.albums[id] = buf
		}
		buf.events = append(buf.events, ev)
		if buf.timer != nil {
			buf.timer.Stop()
		}
		buf.timer = time.AfterFunc(a.mediaIdle, func() {
			a.flushAlbum(id)
		})
		return
	}

	userID := ev.UserID
	buf, ok := a.buffers[userID]
	if !ok {
		buf = &buffer{userID: userID}
		a.buffers[userID] = buf
	}
	buf.events = append(buf.events, ev)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(a.idle, func() {
		a.flushUser(userID)
	})
}

// Flush drains the user's pending buffers immediately, albums included.
// The command layer calls this on a mode switch so buffered text is
// handled under the mode the user just picked.
func (a *Aggregator) Flush(userID int64) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	var batches [][]domain.IncomingEvent
	if buf, ok := a.buffers[userID]; ok {
		batches = append(batches, a.take(buf))
		delete(a.buffers, userID)
	}
	for id, buf := range a.albums {
		if buf.userID == userID {
			batches = append(batches, a.take(buf))
			delete(a.albums, id)
		}
	}
	a.emitLocked(batches)
}

func (a *Aggregator) flushUser(userID int64) {
	a.mu.Lock()
	buf, ok := a.buffers[userID]
	if !ok || a.closed {
		a.mu.Unlock()
		return
	}
	delete(a.buffers, userID)
	events := a.take(buf)
	a.logf("aggregate: flushing %d event(s) for user %d", len(events), userID)
	a.emitLocked([][]domain.IncomingEvent{events})
}

func (a *Aggregator) flushAlbum(id string) {
	a.mu.Lock()
	buf, ok := a.albums[id]
	if !ok || a.closed {
		a.mu.Unlock()
		return
	}
	delete(a.albums, id)
	events := a.take(buf)
	a.logf("aggregate: flushing album of %d event(s) for user %d", len(events), buf.userID)
	a.emitLocked([][]domain.IncomingEvent{events})
}

// take stops the buffer's timer and detaches its events. Caller holds the
// mutex.
func (a *Aggregator) take(buf *buffer) []domain.IncomingEvent {
	if buf.timer != nil {
		buf.timer.Stop()
	}
	return buf.events
}

// emitLocked registers the send with the lifecycle guard, releases the
// mutex, and delivers the batches. Entered with the mutex held.
func (a *Aggregator) emitLocked(batches [][]domain.IncomingEvent) {
	nonEmpty := batches[:0]
	for _, events := range batches {
		if len(events) > 0 {
			nonEmpty = append(nonEmpty, events)
		}
	}
	if len(nonEmpty) == 0 {
		a.mu.Unlock()
		return
	}
	a.sends.Add(1)
	a.mu.Unlock()
	defer a.sends.Done()
	for _, events := range nonEmpty {
		a.out <- domain.NewMessageGroup(events)
	}
}

// Close flushes every pending buffer synchronously and closes the output
// channel. Callers must keep draining Groups until it closes.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	var pending [][]domain.IncomingEvent
	for userID, buf := range a.buffers {
		if events := a.take(buf); len(events) > 0 {
			pending = append(pending, events)
		}
		delete(a.buffers, userID)
	}
	for id, buf := range a.albums {
		if events := a.take(buf); len(events) > 0 {
			pending = append(pending, events)
		}
		delete(a.albums, id)
	}
	a.mu.Unlock()

	// Flushes that cleared the closed check before we set it still hold a
	// sends slot; their groups must land before the channel closes.
	a.sends.Wait()
	for _, events := range pending {
		a.out <- domain.NewMessageGroup(events)
	}
	close(a.out)
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
