package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tally/internal/adapters/http/api"
	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/internal/domain/dedupe"
	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/internal/tracking"
	"github.com/okian/tally/pkg/logger"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// mockDependencies records what the handlers asked for.
type mockDependencies struct {
	mu         sync.Mutex
	logged     []event.Event
	users      []string
	calls      []string
	trackerOK  bool
	history    difficulty.History
	historyErr error
}

func (m *mockDependencies) LogEvent(ctx context.Context, data event.Data, source string) (event.Event, bool) {
	userID, ok := auth.UserIDFrom(ctx)
	if !ok {
		return event.Event{}, false
	}
	e := event.New(data, userID, source, time.Now())
	m.mu.Lock()
	m.logged = append(m.logged, e)
	m.mu.Unlock()
	return e, true
}

func (m *mockDependencies) track(ctx context.Context, call string) bool {
	userID, _ := auth.UserIDFrom(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	m.users = append(m.users, userID)
	return m.trackerOK
}

func (m *mockDependencies) StartSession(ctx context.Context, gameID, _, _, _ string) bool {
	return m.track(ctx, "start:"+gameID)
}

func (m *mockDependencies) RecordSessionAction(ctx context.Context, gameID string) bool {
	return m.track(ctx, "action:"+gameID)
}

func (m *mockDependencies) RecordSessionHint(ctx context.Context, gameID string) bool {
	return m.track(ctx, "hint:"+gameID)
}

func (m *mockDependencies) RecordSessionAttempt(ctx context.Context, gameID string) bool {
	return m.track(ctx, "attempt:"+gameID)
}

func (m *mockDependencies) EndSession(ctx context.Context, gameID string, _ float64, _ []tracking.Objective) bool {
	return m.track(ctx, "end:"+gameID)
}

func (m *mockDependencies) AbandonSession(ctx context.Context, gameID string) bool {
	return m.track(ctx, "abandon:"+gameID)
}

func (m *mockDependencies) History(_ context.Context, _, _ string) (difficulty.History, error) {
	return m.history, m.historyErr
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats(context.Context) map[string]any {
	return m.stats
}

type fixture struct {
	deps  *mockDependencies
	mux   *http.ServeMux
	token string
}

func newFixture(opts ...api.Option) fixture {
	verifier, err := auth.NewTokenVerifier(testSecret)
	So(err, ShouldBeNil)
	token, err := verifier.Issue("learner-1", time.Hour)
	So(err, ShouldBeNil)

	deps := &mockDependencies{trackerOK: true}
	stats := &mockStatsProvider{stats: map[string]any{"queueLength": 3}}
	opts = append([]api.Option{api.WithVerifier(verifier), api.WithDeduper(dedupe.NewInMemoryDeduper())}, opts...)
	server := api.NewServer(deps, stats, opts...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return fixture{deps: deps, mux: mux, token: token}
}

func (f fixture) do(method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

const hintBody = `{"type":"HINT_USAGE","session_id":"s-1","source_component_id":"quiz","hint_usage":{"question_id":"q-1","hint_level":2}}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		f := newFixture()

		Convey("Then health serves the metrics exposition", func() {
			w := f.do(http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "tally_telemetry")
		})

		Convey("Then stats returns the provider's map", func() {
			w := f.do(http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["queueLength"], ShouldEqual, float64(3))
			So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
		})

		Convey("Then unknown routes are not found", func() {
			w := f.do(http.MethodGet, "/unknown", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then wrong methods are not found", func() {
			So(f.do(http.MethodGet, "/events", "", f.token).Code, ShouldEqual, http.StatusNotFound)
			So(f.do(http.MethodPost, "/stats", "", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStatsHandler_NoProvider(t *testing.T) {
	Convey("Given a stats handler without a provider", t, func() {
		w := httptest.NewRecorder()
		api.NewStatsHandler(nil).HandleStats(w, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))

		Convey("Then it reports the stats as unavailable", func() {
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestPostEvent(t *testing.T) {
	Convey("Given the events endpoint", t, func() {
		f := newFixture()

		Convey("When an authenticated producer posts a valid event", func() {
			w := f.do(http.MethodPost, "/events", hintBody, f.token)

			Convey("Then it is accepted with an event id", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				body := decode(w)
				So(body["status"], ShouldEqual, "accepted")
				So(body["event_id"], ShouldNotBeEmpty)
				So(f.deps.logged, ShouldHaveLength, 1)
				So(f.deps.logged[0].UserID, ShouldEqual, "learner-1")
				So(f.deps.logged[0].SourceComponentID, ShouldEqual, "quiz")
				So(f.deps.logged[0].HintUsage.HintLevel, ShouldEqual, 2)
			})
		})

		Convey("When the producer is not signed in", func() {
			w := f.do(http.MethodPost, "/events", hintBody, "")

			Convey("Then the event is dropped without an error", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "dropped")
				So(f.deps.logged, ShouldBeEmpty)
			})
		})

		Convey("When the token is forged", func() {
			w := f.do(http.MethodPost, "/events", hintBody, "not-a-jwt")

			Convey("Then the request proceeds unauthenticated", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "dropped")
			})
		})

		Convey("When the payload does not match the type", func() {
			body := `{"type":"QUESTION_ATTEMPT","hint_usage":{"question_id":"q-1"}}`
			w := f.do(http.MethodPost, "/events", body, f.token)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When an identifier is too long to store", func() {
			long := strings.Repeat("q", event.MaxIDLength+1)
			byQuestion := f.do(http.MethodPost, "/events",
				`{"type":"HINT_USAGE","hint_usage":{"question_id":"`+long+`","hint_level":1}}`, f.token)
			bySource := f.do(http.MethodPost, "/events",
				`{"type":"HINT_USAGE","source_component_id":"`+long+`","hint_usage":{"question_id":"q-1","hint_level":1}}`, f.token)

			Convey("Then it is rejected before queueing", func() {
				So(byQuestion.Code, ShouldEqual, http.StatusBadRequest)
				So(bySource.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the body is not JSON", func() {
			w := f.do(http.MethodPost, "/events", "{", f.token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a retry carries the same idempotency key", func() {
			first := f.do(http.MethodPost, "/events", hintBody, f.token, api.IdempotencyHeader, "k-1")
			second := f.do(http.MethodPost, "/events", hintBody, f.token, api.IdempotencyHeader, "k-1")

			Convey("Then the second is reported as a duplicate of the first", func() {
				So(first.Code, ShouldEqual, http.StatusAccepted)
				So(second.Code, ShouldEqual, http.StatusOK)
				dup := decode(second)
				So(dup["status"], ShouldEqual, "duplicate")
				So(dup["event_id"], ShouldEqual, decode(first)["event_id"])
				So(f.deps.logged, ShouldHaveLength, 1)
			})
		})

		Convey("When a dropped submission is retried after signing in", func() {
			dropped := f.do(http.MethodPost, "/events", hintBody, "", api.IdempotencyHeader, "k-2")
			retried := f.do(http.MethodPost, "/events", hintBody, f.token, api.IdempotencyHeader, "k-2")

			Convey("Then the retry is accepted", func() {
				So(decode(dropped)["status"], ShouldEqual, "dropped")
				So(retried.Code, ShouldEqual, http.StatusAccepted)
			})
		})
	})

	Convey("Given a tiny body limit", t, func() {
		f := newFixture(api.WithMaxBodyBytes(16))

		Convey("Then larger bodies are refused", func() {
			w := f.do(http.MethodPost, "/events", hintBody, f.token)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})
	})
}

func TestSessions(t *testing.T) {
	Convey("Given the sessions endpoints", t, func() {
		f := newFixture()

		Convey("When a session is driven through its lifecycle", func() {
			for _, step := range []struct{ path, body string }{
				{"/sessions/start", `{"game_id":"g-1","subject":"math"}`},
				{"/sessions/record", `{"game_id":"g-1","kind":"action"}`},
				{"/sessions/record", `{"game_id":"g-1","kind":"hint"}`},
				{"/sessions/record", `{"game_id":"g-1","kind":"attempt"}`},
				{"/sessions/end", `{"game_id":"g-1","final_score":80,"objectives":[{"id":"o-1","completed":true}]}`},
				{"/sessions/abandon", `{"game_id":"g-1"}`},
			} {
				w := f.do(http.MethodPost, step.path, step.body, f.token)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["ok"], ShouldBeTrue)
			}

			Convey("Then each call reaches the tracker as the token's user", func() {
				So(f.deps.calls, ShouldResemble, []string{
					"start:g-1", "action:g-1", "hint:g-1", "attempt:g-1", "end:g-1", "abandon:g-1",
				})
				for _, u := range f.deps.users {
					So(u, ShouldEqual, "learner-1")
				}
			})
		})

		Convey("When the tracker refuses", func() {
			f.deps.trackerOK = false
			w := f.do(http.MethodPost, "/sessions/start", `{"game_id":"g-1"}`, "")

			Convey("Then ok is false", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["ok"], ShouldBeFalse)
			})
		})

		Convey("When game_id is missing", func() {
			w := f.do(http.MethodPost, "/sessions/start", `{"subject":"math"}`, f.token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the record kind is unknown", func() {
			w := f.do(http.MethodPost, "/sessions/record", `{"game_id":"g-1","kind":"jump"}`, f.token)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(f.deps.calls, ShouldBeEmpty)
		})
	})
}

func TestDifficulty(t *testing.T) {
	Convey("Given the difficulty endpoints", t, func() {
		f := newFixture()

		Convey("When the history is passed in the query", func() {
			w := f.do(http.MethodGet, "/difficulty?success_rate=0.9&attempts=4&completed=true", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["difficulty"], ShouldEqual, "hard")
		})

		Convey("When no history is given", func() {
			w := f.do(http.MethodGet, "/difficulty", "", "")
			So(decode(w)["difficulty"], ShouldEqual, "medium")
		})

		Convey("When the success rate is out of range", func() {
			w := f.do(http.MethodGet, "/difficulty?success_rate=1.5", "", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a game is named", func() {
			f.deps.history = difficulty.History{SuccessRate: 0.1, Attempts: 5}

			Convey("Then the stored history of the caller is used", func() {
				w := f.do(http.MethodGet, "/difficulty?game_id=g-1", "", f.token)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["difficulty"], ShouldEqual, "easy")
			})

			Convey("Then an anonymous caller is refused", func() {
				w := f.do(http.MethodGet, "/difficulty?game_id=g-1", "", "")
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})

			Convey("Then a store failure is reported", func() {
				f.deps.historyErr = errors.New("db down")
				w := f.do(http.MethodGet, "/difficulty?game_id=g-1", "", f.token)
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})

		Convey("When adjusting a running session", func() {
			w := f.do(http.MethodGet, "/difficulty/adjust?current=medium&accuracy=0.9&answered=5", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["difficulty"], ShouldEqual, "hard")

			w = f.do(http.MethodGet, "/difficulty/adjust?current=medium&accuracy=0.9&answered=2", "", "")
			So(decode(w)["difficulty"], ShouldEqual, "medium")

			w = f.do(http.MethodGet, "/difficulty/adjust?current=extreme", "", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestKindErrors(t *testing.T) {
	Convey("Given a wrapped API error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("Then a bare kind renders without a cause", func() {
			So(api.NewKind("api.op", api.ErrUnauthenticated).Error(), ShouldEqual, "api.op: unauthenticated")
		})
	})
}
