package performance

// Log is the append-only event log of one lesson session.
// It is not safe for concurrent use; the owning session serializes access.
type Log struct {
	events []Event
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{events: make([]Event, 0, 16)}
}

// Append validates and records an event.
func (l *Log) Append(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.events = append(l.events, e)
	return nil
}

// Events returns a copy of the recorded events in order.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	return len(l.events)
}
