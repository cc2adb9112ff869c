package difficulty_test

import (
	"testing"

	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/smartystreets/goconvey/convey"
)

func TestSuggestInitialDifficulty(t *testing.T) {
	convey.Convey("Given learner histories", t, func() {
		cases := []struct {
			name string
			in   difficulty.History
			want difficulty.Level
		}{
			{"no history", difficulty.History{}, difficulty.Medium},
			{"no attempts even if completed", difficulty.History{SuccessRate: 1, Completed: true}, difficulty.Medium},
			{"struggling", difficulty.History{SuccessRate: 0.2, Attempts: 3}, difficulty.Easy},
			{"single poor attempt", difficulty.History{SuccessRate: 0.1, Attempts: 1}, difficulty.Medium},
			{"completed with mastery", difficulty.History{SuccessRate: 0.9, Attempts: 2, Completed: true}, difficulty.Hard},
			{"completed exactly at threshold", difficulty.History{SuccessRate: 0.8, Attempts: 5, Completed: true}, difficulty.Hard},
			{"promising but early", difficulty.History{SuccessRate: 0.95, Attempts: 2}, difficulty.Medium},
			{"strong over many attempts", difficulty.History{SuccessRate: 0.85, Attempts: 4}, difficulty.Hard},
			{"exactly 0.8 not completed", difficulty.History{SuccessRate: 0.8, Attempts: 4}, difficulty.Medium},
			{"middling", difficulty.History{SuccessRate: 0.5, Attempts: 10}, difficulty.Medium},
		}

		for _, tc := range cases {
			convey.Convey("When the history is "+tc.name, func() {
				convey.So(difficulty.SuggestInitialDifficulty(tc.in), convey.ShouldEqual, tc.want)
			})
		}
	})
}

func TestAdjust(t *testing.T) {
	convey.Convey("Given a running session", t, func() {
		convey.Convey("When fewer than three questions were answered", func() {
			convey.So(difficulty.Adjust(difficulty.Medium, 1, 2), convey.ShouldEqual, difficulty.Medium)
		})

		convey.Convey("When accuracy is high", func() {
			convey.So(difficulty.Adjust(difficulty.Easy, 0.8, 3), convey.ShouldEqual, difficulty.Medium)
			convey.So(difficulty.Adjust(difficulty.Medium, 0.9, 5), convey.ShouldEqual, difficulty.Hard)
			convey.So(difficulty.Adjust(difficulty.Hard, 1, 5), convey.ShouldEqual, difficulty.Hard)
		})

		convey.Convey("When accuracy is low", func() {
			convey.So(difficulty.Adjust(difficulty.Hard, 0.4, 3), convey.ShouldEqual, difficulty.Medium)
			convey.So(difficulty.Adjust(difficulty.Easy, 0, 3), convey.ShouldEqual, difficulty.Easy)
		})

		convey.Convey("When accuracy is in between", func() {
			convey.So(difficulty.Adjust(difficulty.Medium, 0.6, 10), convey.ShouldEqual, difficulty.Medium)
		})
	})
}

func TestParse(t *testing.T) {
	convey.Convey("Given level strings", t, func() {
		l, err := difficulty.Parse("hard")
		convey.So(err, convey.ShouldBeNil)
		convey.So(l, convey.ShouldEqual, difficulty.Hard)

		_, err = difficulty.Parse("extreme")
		convey.So(err, convey.ShouldNotBeNil)
	})
}
