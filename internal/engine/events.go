package engine

// Event is an inbound conversation event delivered by the transport adapter.
// The set is sealed; the engine dispatches strictly on (current step, event type).
type Event interface {
	eventName() string
}

// Entry starts (or restarts) the intake dialogue.
type Entry struct{}

// Cancel aborts the dialogue from any step.
type Cancel struct{}

// Choice is the yes/no answer to the welcome prompt.
type Choice struct {
	Accept bool
}

// Location carries shared coordinates.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Text carries a free-text message.
type Text struct {
	Text string
}

func (Entry) eventName() string    { return "entry" }
func (Cancel) eventName() string   { return "cancel" }
func (Choice) eventName() string   { return "choice" }
func (Location) eventName() string { return "location" }
func (Text) eventName() string     { return "text" }

// Markup selects how the transport should render a reply.
type Markup int

const (
	// MarkupNone renders plain text.
	MarkupNone Markup = iota
	// MarkupChoices attaches the yes/no inline keyboard.
	MarkupChoices
	// MarkupForceReply forces a reply with an input placeholder hint.
	MarkupForceReply
	// MarkupMarkdown renders the text as markdown.
	MarkupMarkdown
)

// Reply is an outbound message the transport renders for the user.
type Reply struct {
	Text        string
	Markup      Markup
	Placeholder string
}
