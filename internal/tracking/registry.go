package tracking

import (
	"context"
	"sync"

	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

type trackerKey struct {
	userID string
	gameID string
}

// Registry owns the trackers of every learner, keyed by user and game. The
// user is taken from the request context through the resolver.
type Registry struct {
	stores   Stores
	resolver auth.Resolver
	opts     options

	mu       sync.Mutex
	trackers map[trackerKey]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry(stores Stores, resolver auth.Resolver, opts ...Option) *Registry {
	return &Registry{
		stores:   stores,
		resolver: resolver,
		opts:     buildOptions(opts),
		trackers: make(map[trackerKey]*Tracker),
	}
}

func (r *Registry) key(ctx context.Context, gameID string) (trackerKey, bool) {
	userID, ok := r.resolver.CurrentUserID(ctx)
	if !ok || gameID == "" {
		return trackerKey{}, false
	}
	return trackerKey{userID: userID, gameID: gameID}, true
}

func (r *Registry) lookup(ctx context.Context, gameID string) (trackerKey, *Tracker) {
	k, ok := r.key(ctx, gameID)
	if !ok {
		return k, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return k, r.trackers[k]
}

// Start begins tracking gameID for the current user. It returns false when
// nobody is authenticated or a session for the pair is already open.
func (r *Registry) Start(ctx context.Context, gameID, subject, skillArea, assignmentID string) bool {
	k, ok := r.key(ctx, gameID)
	if !ok {
		r.opts.log.Warn(ctx, "no authenticated user, session not tracked", logger.String("game_id", gameID))
		return false
	}
	for {
		r.mu.Lock()
		t, found := r.trackers[k]
		if !found {
			t = newTracker(k.userID, k.gameID, r.stores, r.opts)
			r.trackers[k] = t
		}
		r.mu.Unlock()

		started, retired := t.start(ctx, subject, skillArea, assignmentID)
		if retired {
			continue
		}
		if !started {
			r.release(k, t)
		}
		r.publish()
		return started
	}
}

// RecordAction counts an action on the current user's session of gameID.
func (r *Registry) RecordAction(ctx context.Context, gameID string) bool {
	_, t := r.lookup(ctx, gameID)
	return t != nil && t.RecordAction()
}

// RecordHintUsed counts a hint on the current user's session of gameID.
func (r *Registry) RecordHintUsed(ctx context.Context, gameID string) bool {
	_, t := r.lookup(ctx, gameID)
	return t != nil && t.RecordHintUsed()
}

// RecordAttempt counts an attempt on the current user's session of gameID.
func (r *Registry) RecordAttempt(ctx context.Context, gameID string) bool {
	_, t := r.lookup(ctx, gameID)
	return t != nil && t.RecordAttempt()
}

// End completes the current user's session of gameID.
func (r *Registry) End(ctx context.Context, gameID string, finalScore float64, objectives []Objective) bool {
	k, t := r.lookup(ctx, gameID)
	if t == nil || !t.End(ctx, finalScore, objectives) {
		return false
	}
	r.release(k, t)
	r.publish()
	return true
}

// Abandon abandons the current user's session of gameID.
func (r *Registry) Abandon(ctx context.Context, gameID string) bool {
	k, t := r.lookup(ctx, gameID)
	if t == nil || !t.Abandon(ctx) {
		return false
	}
	r.release(k, t)
	r.publish()
	return true
}

// AbandonAll abandons every open session. It is run at shutdown so no row is
// left in progress, and returns how many were closed.
func (r *Registry) AbandonAll(ctx context.Context) int {
	r.mu.Lock()
	all := make(map[trackerKey]*Tracker, len(r.trackers))
	for k, t := range r.trackers {
		all[k] = t
	}
	r.mu.Unlock()

	closed := 0
	for k, t := range all {
		if ctx.Err() != nil {
			r.opts.log.Warn(ctx, "shutdown deadline reached, sessions left open", logger.Int("closed", closed))
			break
		}
		if t.Abandon(ctx) {
			closed++
			r.release(k, t)
		}
	}
	r.publish()
	return closed
}

// Active returns the number of open sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// release frees the slot of an idle tracker.
func (r *Registry) release(k trackerKey, t *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trackers[k] == t && t.retire() {
		delete(r.trackers, k)
	}
}

func (r *Registry) publish() {
	metrics.UpdateActiveSessions(r.Active())
}
