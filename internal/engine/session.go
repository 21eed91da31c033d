package engine

// Step identifies the current position in the intake dialogue.
type Step int

const (
	// StepNone means no active session for the user.
	StepNone Step = iota
	// StepAwaitingAction waits for the yes/no welcome answer.
	StepAwaitingAction
	// StepAwaitingLocation waits for a shared location.
	StepAwaitingLocation
	// StepAwaitingContact waits for the free-text contact line.
	StepAwaitingContact
)

func (s Step) String() string {
	switch s {
	case StepAwaitingAction:
		return "awaiting_action"
	case StepAwaitingLocation:
		return "awaiting_location"
	case StepAwaitingContact:
		return "awaiting_contact"
	default:
		return "none"
	}
}

// Session is the transient per-user dialogue state. It lives only in memory;
// a restart drops in-flight sessions and the user starts over.
type Session struct {
	Step Step
	// PendingRegion holds the resolved region between the location and
	// contact steps; it reaches the store only on commit.
	PendingRegion string
}
