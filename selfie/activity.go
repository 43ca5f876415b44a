// Package selfie runs the scheduled self-portrait loop: outside the
// quiet window it looks up the persona's current activity, composes a
// scene prompt from it, generates an image through the uncached engine
// path, asks a caption collaborator for text, and hands both to a
// publisher. Cycle failures are absorbed locally with exponential
// backoff and never reach the caller-facing path.
package selfie

// ActivityType buckets schedule entries into the categories the scene
// composer knows descriptor pools for.
type ActivityType string

const (
	ActivitySleep    ActivityType = "sleep"
	ActivityWork     ActivityType = "work"
	ActivityStudy    ActivityType = "study"
	ActivityExercise ActivityType = "exercise"
	ActivityMeal     ActivityType = "meal"
	ActivityLeisure  ActivityType = "leisure"
	ActivityOuting   ActivityType = "outing"
	ActivityChores   ActivityType = "chores"
)

// Activity is what the persona is doing right now, as reported by the
// schedule collaborator.
type Activity struct {
	Type     ActivityType
	Title    string
	Location string
}

// classify maps a free-form schedule category onto a known activity
// type, defaulting to leisure.
func classify(category string) ActivityType {
	switch ActivityType(category) {
	case ActivitySleep, ActivityWork, ActivityStudy, ActivityExercise,
		ActivityMeal, ActivityLeisure, ActivityOuting, ActivityChores:
		return ActivityType(category)
	}
	return ActivityLeisure
}
