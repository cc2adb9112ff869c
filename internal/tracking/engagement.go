package tracking

// EngagementLevel is a coarse label derived from session length and activity.
type EngagementLevel string

// Engagement levels.
const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

const (
	shortSessionMinutes = 2
	longSessionMinutes  = 10
	busySessionActions  = 50
)

// Engagement labels a session lasting minutes whole minutes with actions
// recorded actions.
func Engagement(minutes, actions int) EngagementLevel {
	switch {
	case minutes < shortSessionMinutes:
		return EngagementLow
	case minutes > longSessionMinutes && actions > busySessionActions:
		return EngagementHigh
	default:
		return EngagementMedium
	}
}
