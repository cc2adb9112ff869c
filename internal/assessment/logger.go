// Package assessment records learner interactions for stealth assessment.
// Producers hand over event data and never see batching or retries.
package assessment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

const (
	dropReasonUnauthenticated = "unauthenticated"
	dropReasonInvalid         = "invalid"
	dropReasonClosed          = "closed"
)

// Appender is the queue the logger writes to.
type Appender interface {
	Append(ctx context.Context, e event.Event) int
	Clear()
}

// Flusher is notified after every append and stopped by Destroy.
type Flusher interface {
	Notify()
	Shutdown(ctx context.Context) error
}

// Logger attributes and enqueues interaction events.
type Logger struct {
	queue       Appender
	flusher     Flusher
	resolver    auth.Resolver
	anonymousID string
	now         func() time.Time
	log         logger.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Logger.
type Option func(*Logger)

// WithAnonymousUserID attributes events to id when no user is authenticated
// instead of dropping them.
func WithAnonymousUserID(id string) Option {
	return func(l *Logger) {
		l.anonymousID = id
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Logger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// NewLogger creates a Logger.
func NewLogger(q Appender, f Flusher, r auth.Resolver, opts ...Option) *Logger {
	l := &Logger{
		queue:    q,
		flusher:  f,
		resolver: r,
		now:      time.Now,
		log:      logger.Get().Named("assessment"),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent attributes data to the current user and queues it. It returns
// false when the event was dropped: nobody is authenticated, the data is
// invalid, or the logger was destroyed. Failures never reach the caller as
// errors.
func (l *Logger) LogEvent(ctx context.Context, data event.Data, sourceComponentID string) (event.Event, bool) {
	select {
	case <-l.closed:
		metrics.RecordEventDropped(dropReasonClosed, 1)
		return event.Event{}, false
	default:
	}

	if err := errors.Join(data.Validate(), event.ValidateID("source_component_id", sourceComponentID)); err != nil {
		metrics.RecordEventDropped(dropReasonInvalid, 1)
		l.log.Warn(ctx, "dropping invalid event", logger.String("type", string(data.Type)), logger.Error(err))
		return event.Event{}, false
	}

	userID, ok := l.resolver.CurrentUserID(ctx)
	if !ok {
		if l.anonymousID == "" {
			metrics.RecordEventDropped(dropReasonUnauthenticated, 1)
			l.log.Warn(ctx, "no authenticated user, event not logged", logger.String("type", string(data.Type)))
			return event.Event{}, false
		}
		userID = l.anonymousID
	}
	if err := event.ValidateID("user_id", userID); err != nil {
		metrics.RecordEventDropped(dropReasonInvalid, 1)
		l.log.Warn(ctx, "dropping event with unusable user id", logger.Error(err))
		return event.Event{}, false
	}

	e := event.New(data, userID, sourceComponentID, l.now())
	l.queue.Append(ctx, e)
	metrics.RecordEventLogged(string(e.Type))
	l.flusher.Notify()

	l.log.Debug(ctx, "event logged",
		logger.String("event_id", e.EventID),
		logger.String("type", string(e.Type)),
	)
	return e, true
}

// LogQuestionAttempt logs an answer submission.
func (l *Logger) LogQuestionAttempt(ctx context.Context, sessionID, source string, p event.QuestionAttempt) (event.Event, bool) {
	return l.LogEvent(ctx, event.Data{
		Type: event.TypeQuestionAttempt, SessionID: sessionID,
		Payload: event.Payload{QuestionAttempt: &p},
	}, source)
}

// LogHintUsage logs a hint request.
func (l *Logger) LogHintUsage(ctx context.Context, sessionID, source string, p event.HintUsage) (event.Event, bool) {
	return l.LogEvent(ctx, event.Data{
		Type: event.TypeHintUsage, SessionID: sessionID,
		Payload: event.Payload{HintUsage: &p},
	}, source)
}

// LogGameInteraction logs an in-game action.
func (l *Logger) LogGameInteraction(ctx context.Context, sessionID, source string, p event.GameInteraction) (event.Event, bool) {
	return l.LogEvent(ctx, event.Data{
		Type: event.TypeGameInteraction, SessionID: sessionID,
		Payload: event.Payload{GameInteraction: &p},
	}, source)
}

// LogTutorQuery logs a question asked of the tutor.
func (l *Logger) LogTutorQuery(ctx context.Context, sessionID, source string, p event.TutorQuery) (event.Event, bool) {
	return l.LogEvent(ctx, event.Data{
		Type: event.TypeTutorQuery, SessionID: sessionID,
		Payload: event.Payload{TutorQuery: &p},
	}, source)
}

// LogContentView logs a content atom being viewed.
func (l *Logger) LogContentView(ctx context.Context, sessionID, source string, p event.ContentView) (event.Event, bool) {
	return l.LogEvent(ctx, event.Data{
		Type: event.TypeContentView, SessionID: sessionID,
		Payload: event.Payload{ContentView: &p},
	}, source)
}

// Destroy stops accepting events, makes a final flush bounded by ctx and
// discards whatever could not be written. Later calls are no-ops.
func (l *Logger) Destroy(ctx context.Context) error {
	first := false
	l.closeOnce.Do(func() {
		close(l.closed)
		first = true
	})
	if !first {
		return nil
	}
	err := l.flusher.Shutdown(ctx)
	if err != nil {
		l.log.Error(ctx, "final flush failed, discarding queued events", logger.Error(err))
	}
	l.queue.Clear()
	return err
}
