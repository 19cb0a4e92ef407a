package session

// Update describes a found update bundle as announced to subscribers.
type Update struct {
	// Path is the absolute filename of the bundle.
	Path string
	// CurrentVersion is the version of the currently booted slot. An unknown
	// version is rendered as 0.0.0.
	CurrentVersion string
	// NewVersion is the version the bundle declares.
	NewVersion string
	// Override reports whether the bundle came from an override directory.
	Override bool
}

// Publisher receives observable mutations of the automaton. Calls are made
// in publication order, before the next transition is taken. Implementations
// must not block and must not call back into the machine synchronously.
type Publisher interface {
	StateChanged(state State)
	MarkedForRebootChanged(marked bool)
	UpdatedChanged(updated bool)
	UpdateFound(update Update)
}

// NopPublisher discards all notifications.
type NopPublisher struct{}

func (NopPublisher) StateChanged(State) {}

func (NopPublisher) MarkedForRebootChanged(bool) {}

func (NopPublisher) UpdatedChanged(bool) {}

func (NopPublisher) UpdateFound(Update) {}

// Broadcast fans notifications out to several publishers in order.
type Broadcast []Publisher

func (b Broadcast) StateChanged(state State) {
	for _, p := range b {
		p.StateChanged(state)
	}
}

func (b Broadcast) MarkedForRebootChanged(marked bool) {
	for _, p := range b {
		p.MarkedForRebootChanged(marked)
	}
}

func (b Broadcast) UpdatedChanged(updated bool) {
	for _, p := range b {
		p.UpdatedChanged(updated)
	}
}

func (b Broadcast) UpdateFound(update Update) {
	for _, p := range b {
		p.UpdateFound(update)
	}
}
