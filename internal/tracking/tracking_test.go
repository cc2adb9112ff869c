package tracking_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/tracking"
	"github.com/okian/tally/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// memStores is an in-memory Stores with switchable failures.
type memStores struct {
	mu        sync.Mutex
	sessions  map[string]repository.GameSession
	updates   map[string]repository.SessionUpdate
	completed map[string]float64
	createErr error
	updateErr error
	nextID    int
}

func newMemStores() *memStores {
	return &memStores{
		sessions:  map[string]repository.GameSession{},
		updates:   map[string]repository.SessionUpdate{},
		completed: map[string]float64{},
	}
}

func (m *memStores) CreateSession(_ context.Context, s repository.GameSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	s.ID = fmt.Sprintf("session-%d", m.nextID)
	m.sessions[s.ID] = s
	return s.ID, nil
}

func (m *memStores) UpdateSession(_ context.Context, id string, u repository.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = u.Status
	m.sessions[id] = s
	m.updates[id] = u
	return nil
}

func (m *memStores) GetSession(_ context.Context, id string) (repository.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *memStores) History(context.Context, string, string) (difficulty.History, error) {
	return difficulty.History{}, nil
}

func (m *memStores) CreateAssignment(context.Context, repository.Assignment) (string, error) {
	return "a", nil
}

func (m *memStores) CompleteAssignment(_ context.Context, id string, score *float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = *score
	return nil
}

func (m *memStores) GetAssignment(context.Context, string) (repository.Assignment, error) {
	return repository.Assignment{}, nil
}

func (m *memStores) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestEngagement(t *testing.T) {
	convey.Convey("Given session durations and action counts", t, func() {
		convey.So(tracking.Engagement(1, 500), convey.ShouldEqual, tracking.EngagementLow)
		convey.So(tracking.Engagement(0, 0), convey.ShouldEqual, tracking.EngagementLow)
		convey.So(tracking.Engagement(12, 60), convey.ShouldEqual, tracking.EngagementHigh)
		convey.So(tracking.Engagement(10, 60), convey.ShouldEqual, tracking.EngagementMedium)
		convey.So(tracking.Engagement(12, 50), convey.ShouldEqual, tracking.EngagementMedium)
		convey.So(tracking.Engagement(2, 0), convey.ShouldEqual, tracking.EngagementMedium)
	})
}

func TestTrackerLifecycle(t *testing.T) {
	convey.Convey("Given a tracker for a learner", t, func() {
		ctx := context.Background()
		stores := newMemStores()
		c := &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
		tr := tracking.NewTracker("u1", "fraction-frenzy", stores, tracking.WithClock(c.now))

		convey.Convey("When it is started twice", func() {
			first := tr.Start(ctx, "math", "fractions", "")
			second := tr.Start(ctx, "math", "fractions", "")

			convey.Convey("Then exactly one row exists", func() {
				convey.So(first, convey.ShouldBeTrue)
				convey.So(second, convey.ShouldBeFalse)
				convey.So(stores.count(), convey.ShouldEqual, 1)
				convey.So(tr.Tracking(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When counters are recorded without a session", func() {
			convey.So(tr.RecordAction(), convey.ShouldBeFalse)
			convey.So(tr.End(ctx, 10, nil), convey.ShouldBeFalse)
			convey.So(tr.Abandon(ctx), convey.ShouldBeFalse)
		})

		convey.Convey("When a busy twelve minute session ends", func() {
			tr.Start(ctx, "math", "fractions", "assign-1")
			id := tr.SessionID()
			for range 60 {
				tr.RecordAction()
			}
			tr.RecordHintUsed()
			tr.RecordAttempt()
			tr.RecordAttempt()
			c.t = c.t.Add(12*time.Minute + 30*time.Second)

			ok := tr.End(ctx, 92, []tracking.Objective{
				{ID: "o1", Description: "compare fractions", Completed: true},
				{ID: "o2", Description: "simplify fractions"},
			})

			convey.Convey("Then one update carries the derived metrics", func() {
				convey.So(ok, convey.ShouldBeTrue)
				u := stores.updates[id]
				convey.So(u.Status, convey.ShouldEqual, repository.SessionCompleted)
				convey.So(*u.DurationSeconds, convey.ShouldEqual, 750)
				convey.So(*u.Score, convey.ShouldEqual, 92.0)
				convey.So(u.LearningObjectivesMet, convey.ShouldResemble, []string{"compare fractions"})
				convey.So(u.EngagementMetrics["duration_minutes"], convey.ShouldEqual, 12)
				convey.So(u.EngagementMetrics["actions_performed"], convey.ShouldEqual, 60)
				convey.So(u.EngagementMetrics["hints_used"], convey.ShouldEqual, 1)
				convey.So(u.EngagementMetrics["engagement_level"], convey.ShouldEqual, "high")
				convey.So(u.PerformanceData["attempts_made"], convey.ShouldEqual, 2)
			})

			convey.Convey("Then the assignment is completed and state resets", func() {
				convey.So(stores.completed["assign-1"], convey.ShouldEqual, 92.0)
				convey.So(tr.Tracking(), convey.ShouldBeFalse)
				convey.So(tr.Start(ctx, "math", "", ""), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a one minute session ends", func() {
			tr.Start(ctx, "math", "", "")
			id := tr.SessionID()
			c.t = c.t.Add(time.Minute)
			tr.End(ctx, 0, nil)

			convey.So(stores.updates[id].EngagementMetrics["engagement_level"], convey.ShouldEqual, "low")
		})

		convey.Convey("When the update fails", func() {
			tr.Start(ctx, "math", "", "")
			stores.updateErr = errors.New("gateway down")

			convey.Convey("Then End reports false and the session stays open", func() {
				convey.So(tr.End(ctx, 50, nil), convey.ShouldBeFalse)
				convey.So(tr.Tracking(), convey.ShouldBeTrue)
				convey.So(tr.Abandon(ctx), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the insert fails", func() {
			stores.createErr = errors.New("gateway down")

			convey.So(tr.Start(ctx, "math", "", ""), convey.ShouldBeFalse)
			convey.So(tr.Tracking(), convey.ShouldBeFalse)
		})

		convey.Convey("When the session is abandoned", func() {
			tr.Start(ctx, "math", "", "")
			id := tr.SessionID()

			convey.So(tr.Abandon(ctx), convey.ShouldBeTrue)
			convey.So(stores.updates[id].Status, convey.ShouldEqual, repository.SessionAbandoned)
			convey.So(tr.Tracking(), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a tracker without a user", t, func() {
		tr := tracking.NewTracker("", "g", newMemStores())
		convey.So(tr.Start(context.Background(), "math", "", ""), convey.ShouldBeFalse)
	})
}

func TestRegistry(t *testing.T) {
	convey.Convey("Given a registry resolving users from context", t, func() {
		stores := newMemStores()
		reg := tracking.NewRegistry(stores, auth.ContextResolver{})
		alice := auth.WithUserID(context.Background(), "alice")
		bob := auth.WithUserID(context.Background(), "bob")

		convey.Convey("When nobody is authenticated", func() {
			convey.So(reg.Start(context.Background(), "g1", "math", "", ""), convey.ShouldBeFalse)
			convey.So(reg.Active(), convey.ShouldEqual, 0)
		})

		convey.Convey("When two learners play the same game", func() {
			convey.So(reg.Start(alice, "g1", "math", "", ""), convey.ShouldBeTrue)
			convey.So(reg.Start(bob, "g1", "math", "", ""), convey.ShouldBeTrue)
			convey.So(reg.Start(alice, "g1", "math", "", ""), convey.ShouldBeFalse)

			convey.Convey("Then each has an independent session", func() {
				convey.So(reg.Active(), convey.ShouldEqual, 2)
				convey.So(reg.RecordAction(alice, "g1"), convey.ShouldBeTrue)
				convey.So(reg.RecordAction(alice, "g2"), convey.ShouldBeFalse)
				convey.So(reg.End(alice, "g1", 80, nil), convey.ShouldBeTrue)
				convey.So(reg.Active(), convey.ShouldEqual, 1)
				convey.So(reg.End(alice, "g1", 80, nil), convey.ShouldBeFalse)
			})

			convey.Convey("Then shutdown abandons what is still open", func() {
				convey.So(reg.AbandonAll(context.Background()), convey.ShouldEqual, 2)
				convey.So(reg.Active(), convey.ShouldEqual, 0)
				convey.So(reg.Abandon(bob, "g1"), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When many requests race to start the same session", func() {
			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					reg.Start(alice, "g1", "math", "", "")
				}()
			}
			wg.Wait()

			convey.So(stores.count(), convey.ShouldEqual, 1)
			convey.So(reg.Active(), convey.ShouldEqual, 1)
		})
	})
}

func TestTrackerWithGormStore(t *testing.T) {
	convey.Convey("Given a tracker persisting to sqlite", t, func() {
		ctx := context.Background()
		store, err := repository.Open("sqlite", filepath.Join(t.TempDir(), "tally.db"))
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()

		reg := tracking.NewRegistry(store, auth.StaticResolver("learner"))

		convey.Convey("When a session is started twice and then ended", func() {
			convey.So(reg.Start(ctx, "g1", "science", "", ""), convey.ShouldBeTrue)
			convey.So(reg.Start(ctx, "g1", "science", "", ""), convey.ShouldBeFalse)
			convey.So(reg.End(ctx, "g1", 75, nil), convey.ShouldBeTrue)

			convey.Convey("Then history shows a single completed session", func() {
				h, err := store.History(ctx, "learner", "g1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.Attempts, convey.ShouldEqual, 1)
				convey.So(h.Completed, convey.ShouldBeTrue)
			})
		})
	})
}
