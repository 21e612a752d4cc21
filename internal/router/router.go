// Package router connects the aggregator to the mode services: each flushed
// message group is dedup-checked, resolved to the owning user's current mode,
// and handed to the pipeline handler. Groups from the same user run strictly
// in order; groups from different users run concurrently.
package router

import (
	"context"
	"sync"

	"github.com/batalabs/knowd/internal/chat"
	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/dedup"
	"github.com/batalabs/knowd/internal/domain"
)

// Handler processes one message group in the given mode. The router does not
// interpret the error beyond logging it; user-facing reporting is the
// handler's job.
type Handler func(ctx context.Context, group domain.MessageGroup, mode domain.Mode) error

// queueDepth bounds how many groups may wait per user before Run blocks.
// A user typing faster than the agent can process backs up their own lane
// only.
const queueDepth = 8

// Router fans message groups out to per-user serial workers.
type Router struct {
	settings *config.Store
	log      *dedup.Log
	handle   Handler
	logger   *config.Logger

	// Port reports duplicate deliveries back to the user. Assigned after
	// construction; the chat adapter needs the router to exist first.
	Port chat.Port

	mu       sync.Mutex
	lanes    map[int64]chan dispatch
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

type dispatch struct {
	group domain.MessageGroup
	mode  domain.Mode
	fp    string
}

// New creates a router. handle must be safe for concurrent calls with
// distinct user IDs.
func New(settings *config.Store, log *dedup.Log, handle Handler, logger *config.Logger) *Router {
	return &Router{
		settings: settings,
		log:      log,
		handle:   handle,
		logger:   logger,
		lanes:    make(map[int64]chan dispatch),
		inflight: make(map[string]struct{}),
	}
}

// Run consumes groups until the channel closes or ctx is cancelled, then
// drains the per-user lanes and returns.
func (r *Router) Run(ctx context.Context, groups <-chan domain.MessageGroup) {
	for {
		select {
		case <-ctx.Done():
			r.close()
			return
		case g, ok := <-groups:
			if !ok {
				r.close()
				return
			}
			r.route(ctx, g)
		}
	}
}

// route performs the dedup check and mode lookup, then enqueues the group on
// the owning user's lane. The check runs before any lock or git work so a
// replayed update costs one file read, not a pipeline run. Reserving the
// fingerprint before the ledger check closes the window where a redelivery
// arrives while the first run is still executing: the ledger records only
// finished runs, the reservation covers in-flight ones.
func (r *Router) route(ctx context.Context, g domain.MessageGroup) {
	fp := g.Fingerprint()
	if !r.reserve(fp) {
		r.reportDuplicate(ctx, g, fp)
		return
	}
	done, err := r.log.IsProcessed(fp)
	if err != nil {
		r.logger.Printf("router: dedup check failed for user %d: %v", g.UserID, err)
	}
	if done {
		r.release(fp)
		r.reportDuplicate(ctx, g, fp)
		return
	}

	mode := r.Mode(g.UserID)
	r.logger.Printf("router: dispatching group %s for user %d in %s mode", fp[:12], g.UserID, mode)

	select {
	case r.lane(ctx, g.UserID) <- dispatch{group: g, mode: mode, fp: fp}:
	case <-ctx.Done():
		r.release(fp)
	}
}

// reserve marks fp as in flight. Returns false if another delivery of the
// same group is already queued or running.
func (r *Router) reserve(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[fp]; ok {
		return false
	}
	r.inflight[fp] = struct{}{}
	return true
}

func (r *Router) release(fp string) {
	r.mu.Lock()
	delete(r.inflight, fp)
	r.mu.Unlock()
}

// reportDuplicate tells the user their messages were already handled.
func (r *Router) reportDuplicate(ctx context.Context, g domain.MessageGroup, fp string) {
	r.logger.Printf("router: duplicate group %s for user %d", fp[:12], g.UserID)
	if r.Port == nil {
		return
	}
	if _, err := r.Port.SendText(ctx, g.ChatID, "These messages were already processed; the knowledge base was not changed again."); err != nil {
		r.logger.Printf("router: duplicate notice for user %d: %v", g.UserID, err)
	}
}

// Mode returns the user's effective chat mode. An unparseable overlay value
// falls back to note mode; notes are the least destructive service.
func (r *Router) Mode(userID int64) domain.Mode {
	m, ok := domain.ParseMode(r.settings.Effective(userID).ChatMode)
	if !ok {
		return domain.ModeNote
	}
	return m
}

// SetMode persists the user's mode in their settings overlay so it survives
// restarts.
func (r *Router) SetMode(ctx context.Context, userID int64, mode domain.Mode) error {
	if !mode.Valid() {
		return domain.Errf(domain.KindInputRejected, "unknown mode: %s", mode)
	}
	return r.settings.SetUserOverride(ctx, userID, "CHAT_MODE", string(mode))
}

// lane returns the user's dispatch channel, starting its worker on first use.
func (r *Router) lane(ctx context.Context, userID int64) chan dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.lanes[userID]
	if !ok {
		ch = make(chan dispatch, queueDepth)
		r.lanes[userID] = ch
		r.wg.Add(1)
		go r.work(ctx, userID, ch)
	}
	return ch
}

func (r *Router) work(ctx context.Context, userID int64, ch chan dispatch) {
	defer r.wg.Done()
	for d := range ch {
		err := r.handle(ctx, d.group, d.mode)
		// A successful run recorded the fingerprint in the ledger before
		// this point; a failed run frees it so a retry can go through.
		r.release(d.fp)
		if err != nil {
			r.logger.Printf("router: %s handler failed for user %d: %v", d.mode, userID, err)
		}
	}
}

// close shuts the lanes and waits for in-flight handlers.
func (r *Router) close() {
	r.mu.Lock()
	for id, ch := range r.lanes {
		close(ch)
		delete(r.lanes, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
