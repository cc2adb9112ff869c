package testevents

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/pkg/logger"
)

// Generation ranges.
const (
	maxAttemptNumber = 4
	maxHintsUsed     = 3
	maxHintLevel     = 3
	maxTimeTakenMS   = 90_000
	maxViewMS        = 300_000
	correctRate      = 0.65
	numQuestions     = 40
	numGames         = 5
	numContentAtoms  = 25
)

// Game the events and sessions of learner i belong to.
func gameFor(i int) string {
	return fmt.Sprintf("game-%d", i%numGames)
}

func userFor(i int) string {
	return fmt.Sprintf("learner-%04d", i)
}

// generator builds a deterministic stream of events for a seed.
type generator struct {
	rng   *rand.Rand
	users int
}

func newGenerator(seed uint64, users int) *generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		users: max(users, 1),
	}
}

func (g *generator) kcs() []string {
	n := 1 + g.rng.IntN(2)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("kc-%d", g.rng.IntN(12))
	}
	return out
}

// next returns one event for a random learner.
func (g *generator) next() Event {
	u := g.rng.IntN(g.users)
	e := Event{
		UserID:            userFor(u),
		IdempotencyKey:    uuid.NewString(),
		SourceComponentID: SourceComponentID,
	}
	e.SessionID = fmt.Sprintf("%s-%s", e.UserID, gameFor(u))
	question := fmt.Sprintf("q-%d", g.rng.IntN(numQuestions))

	switch t := event.Types[g.rng.IntN(len(event.Types))]; t {
	case event.TypeQuestionAttempt:
		e.Type = t
		e.QuestionAttempt = &event.QuestionAttempt{
			QuestionID:    question,
			KCIDs:         g.kcs(),
			IsCorrect:     g.rng.Float64() < correctRate,
			AttemptNumber: 1 + g.rng.IntN(maxAttemptNumber),
			HintsUsed:     g.rng.IntN(maxHintsUsed + 1),
			TimeTakenMS:   g.rng.Int64N(maxTimeTakenMS),
		}
	case event.TypeHintUsage:
		e.Type = t
		e.HintUsage = &event.HintUsage{QuestionID: question, HintLevel: 1 + g.rng.IntN(maxHintLevel), KCIDs: g.kcs()}
	case event.TypeGameInteraction:
		e.Type = t
		e.GameInteraction = &event.GameInteraction{
			GameID:  gameFor(u),
			Action:  "move",
			Payload: map[string]any{"x": g.rng.IntN(10), "y": g.rng.IntN(10)},
		}
	case event.TypeTutorQuery:
		e.Type = t
		e.TutorQuery = &event.TutorQuery{Query: "why is " + question + " wrong?", KCIDs: g.kcs()}
	default:
		e.Type = event.TypeContentView
		e.ContentView = &event.ContentView{
			ContentAtomID: fmt.Sprintf("atom-%d", g.rng.IntN(numContentAtoms)),
			DurationMS:    g.rng.Int64N(maxViewMS),
		}
	}
	return e
}

// generate returns n submissions. A share of them, set by dupRatio, replay
// an earlier submission with the same idempotency key.
func (g *generator) generate(n int, dupRatio float64) []Event {
	events := make([]Event, 0, n)
	for len(events) < n {
		if len(events) > 0 && g.rng.Float64() < dupRatio {
			events = append(events, events[g.rng.IntN(len(events))])
			continue
		}
		events = append(events, g.next())
	}
	return events
}

// generateEvents builds the submissions for a run.
func generateEvents(ctx context.Context, config *Config, stats *Stats) ([]Event, error) {
	if config.NumEvents <= 0 {
		return nil, fmt.Errorf("number of events must be positive, got %d", config.NumEvents)
	}
	if config.DuplicateRatio < 0 || config.DuplicateRatio >= 1 {
		return nil, fmt.Errorf("duplicate ratio must be within [0,1), got %v", config.DuplicateRatio)
	}
	events := newGenerator(config.Seed, config.Users).generate(config.NumEvents, config.DuplicateRatio)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("generated invalid event: %w", err)
		}
	}
	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "events generated",
		logger.Int("events", len(events)),
		logger.Int("users", config.Users),
		logger.Float64("duplicateRatio", config.DuplicateRatio))
	return events, nil
}
