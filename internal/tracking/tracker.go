// Package tracking brackets a learner's play of a game with a persisted
// session row, accumulating activity counters in memory until it ends.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// Session outcomes as exported in metrics.
const (
	statusStarted   = "started"
	statusCompleted = "completed"
	statusAbandoned = "abandoned"
	statusFailed    = "failed"
)

// Objective is a learning objective of the game being played.
type Objective struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Stores is the persistence a Tracker needs.
type Stores interface {
	repository.SessionStore
	repository.AssignmentStore
}

// Tracker follows one learner playing one game.
type Tracker struct {
	userID string
	gameID string
	stores Stores
	now    func() time.Time
	log    logger.Logger

	mu           sync.Mutex
	sessionID    string
	assignmentID string
	startTime    time.Time
	actions      int
	hints        int
	attempts     int
	retired      bool
}

// Option configures a Tracker or Registry.
type Option func(*options)

type options struct {
	now func() time.Time
	log logger.Logger
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("tracking")
	}
	return o
}

// NewTracker creates an idle tracker for userID playing gameID.
func NewTracker(userID, gameID string, stores Stores, opts ...Option) *Tracker {
	o := buildOptions(opts)
	return newTracker(userID, gameID, stores, o)
}

func newTracker(userID, gameID string, stores Stores, o options) *Tracker {
	return &Tracker{
		userID: userID,
		gameID: gameID,
		stores: stores,
		now:    o.now,
		log:    o.log,
	}
}

// Start opens a session row. It is a no-op returning false when a session is
// already being tracked, no user is known, or the row cannot be written.
func (t *Tracker) Start(ctx context.Context, subject, skillArea, assignmentID string) bool {
	ok, _ := t.start(ctx, subject, skillArea, assignmentID)
	return ok
}

func (t *Tracker) start(ctx context.Context, subject, skillArea, assignmentID string) (ok, retired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.retired {
		return false, true
	}
	if t.sessionID != "" || t.userID == "" {
		return false, false
	}

	start := t.now()
	id, err := t.stores.CreateSession(ctx, repository.GameSession{
		UserID:       t.userID,
		GameID:       t.gameID,
		AssignmentID: assignmentID,
		Subject:      subject,
		SkillArea:    skillArea,
		StartTime:    start.UTC(),
		Status:       repository.SessionInProgress,
	})
	if err != nil {
		metrics.RecordSession(statusFailed)
		t.log.Error(ctx, "could not start game session",
			logger.String("user_id", t.userID),
			logger.String("game_id", t.gameID),
			logger.Error(err),
		)
		return false, false
	}

	t.sessionID = id
	t.assignmentID = assignmentID
	t.startTime = start
	t.actions, t.hints, t.attempts = 0, 0, 0
	metrics.RecordSession(statusStarted)
	t.log.Info(ctx, "game session started",
		logger.String("session_id", id),
		logger.String("game_id", t.gameID),
	)
	return true, false
}

// RecordAction counts a learner action. It reports whether a session is active.
func (t *Tracker) RecordAction() bool {
	return t.bump(&t.actions)
}

// RecordHintUsed counts a hint.
func (t *Tracker) RecordHintUsed() bool {
	return t.bump(&t.hints)
}

// RecordAttempt counts an attempt.
func (t *Tracker) RecordAttempt() bool {
	return t.bump(&t.attempts)
}

func (t *Tracker) bump(counter *int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == "" {
		return false
	}
	*counter++
	return true
}

// End completes the session with finalScore and the objectives reached,
// then completes the linked assignment if there is one. Local state is reset
// only once the session row is written.
func (t *Tracker) End(ctx context.Context, finalScore float64, objectives []Objective) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionID == "" {
		return false
	}

	end := t.now()
	elapsed := end.Sub(t.startTime)
	minutes := int(elapsed / time.Minute)
	seconds := int(elapsed / time.Second)
	level := Engagement(minutes, t.actions)

	met := make([]string, 0, len(objectives))
	for _, o := range objectives {
		if o.Completed {
			met = append(met, o.Description)
		}
	}
	score := finalScore

	err := t.stores.UpdateSession(ctx, t.sessionID, repository.SessionUpdate{
		Status:                repository.SessionCompleted,
		EndTime:               end.UTC(),
		DurationSeconds:       &seconds,
		Score:                 &score,
		LearningObjectivesMet: met,
		EngagementMetrics: map[string]any{
			"duration_minutes":  minutes,
			"actions_performed": t.actions,
			"hints_used":        t.hints,
			"engagement_level":  string(level),
		},
		PerformanceData: map[string]any{
			"final_score":          finalScore,
			"attempts_made":        t.attempts,
			"objectives_total":     len(objectives),
			"objectives_completed": len(met),
		},
	})
	if err != nil {
		metrics.RecordSession(statusFailed)
		t.log.Error(ctx, "could not end game session",
			logger.String("session_id", t.sessionID),
			logger.Error(err),
		)
		return false
	}

	if t.assignmentID != "" {
		if err := t.stores.CompleteAssignment(ctx, t.assignmentID, &score, end.UTC()); err != nil {
			t.log.Warn(ctx, "session ended but assignment not completed",
				logger.String("assignment_id", t.assignmentID),
				logger.Error(err),
			)
		}
	}

	metrics.RecordSession(statusCompleted)
	metrics.RecordEngagementLevel(string(level))
	t.log.Info(ctx, "game session completed",
		logger.String("session_id", t.sessionID),
		logger.Int("minutes", minutes),
		logger.String("engagement", string(level)),
	)
	t.resetLocked()
	return true
}

// Abandon marks the session abandoned.
func (t *Tracker) Abandon(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionID == "" {
		return false
	}
	err := t.stores.UpdateSession(ctx, t.sessionID, repository.SessionUpdate{
		Status:  repository.SessionAbandoned,
		EndTime: t.now().UTC(),
	})
	if err != nil {
		metrics.RecordSession(statusFailed)
		t.log.Error(ctx, "could not abandon game session",
			logger.String("session_id", t.sessionID),
			logger.Error(err),
		)
		return false
	}
	metrics.RecordSession(statusAbandoned)
	t.log.Info(ctx, "game session abandoned", logger.String("session_id", t.sessionID))
	t.resetLocked()
	return true
}

// Tracking reports whether a session is open.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID != ""
}

// SessionID returns the open session's id, or "" when idle.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Tracker) resetLocked() {
	t.sessionID = ""
	t.assignmentID = ""
	t.startTime = time.Time{}
	t.actions, t.hints, t.attempts = 0, 0, 0
}

// retire marks an idle tracker unusable so its registry slot can be freed.
func (t *Tracker) retire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID != "" {
		return false
	}
	t.retired = true
	return true
}
