// Package difficulty suggests and adjusts game difficulty from a learner's
// performance history.
package difficulty

import "fmt"

// Level is a coarse difficulty setting.
type Level string

// Supported levels, ordered easy < medium < hard.
const (
	Easy   Level = "easy"
	Medium Level = "medium"
	Hard   Level = "hard"
)

// Thresholds for the initial suggestion.
const (
	masteryRate      = 0.8
	strugglingRate   = 0.3
	promisingRate    = 0.6
	minStruggleTries = 2
	earlyAttempts    = 3
)

// Thresholds for the in-session step.
const (
	minAnswered    = 3
	stepUpAccuracy = 0.8
	stepDnAccuracy = 0.4
)

// History summarizes a learner's prior play of a game.
type History struct {
	// SuccessRate is in [0,1].
	SuccessRate float64
	Attempts    int
	Completed   bool
}

// SuggestInitialDifficulty picks a starting level. Rules are evaluated in
// order and the first match wins.
func SuggestInitialDifficulty(h History) Level {
	switch {
	case h.Attempts == 0:
		return Medium
	case h.Completed && h.SuccessRate >= masteryRate:
		return Hard
	case h.SuccessRate < strugglingRate && h.Attempts >= minStruggleTries:
		return Easy
	case h.SuccessRate > promisingRate && h.Attempts < earlyAttempts:
		return Medium
	case h.SuccessRate > masteryRate:
		return Hard
	default:
		return Medium
	}
}

// Adjust moves current one step based on accuracy over the answered
// questions of the running session. Fewer than three answers keep the level.
func Adjust(current Level, recentAccuracy float64, answered int) Level {
	if answered < minAnswered {
		return current
	}
	switch {
	case recentAccuracy >= stepUpAccuracy:
		return current.harder()
	case recentAccuracy <= stepDnAccuracy:
		return current.easier()
	default:
		return current
	}
}

// Parse converts s to a Level.
func Parse(s string) (Level, error) {
	switch l := Level(s); l {
	case Easy, Medium, Hard:
		return l, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

func (l Level) harder() Level {
	if l == Easy {
		return Medium
	}
	return Hard
}

func (l Level) easier() Level {
	if l == Hard {
		return Medium
	}
	return Easy
}
