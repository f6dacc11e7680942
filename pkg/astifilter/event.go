package astifilter

// EventType identifies a control event flowing upstream through the graph.
type EventType uint32

const (
	EventTypePlay EventType = iota + 1
	EventTypeStop
	EventTypeSetSpeed
)

func (t EventType) String() string {
	switch t {
	case EventTypePlay:
		return "play"
	case EventTypeStop:
		return "stop"
	case EventTypeSetSpeed:
		return "set speed"
	default:
		return "unknown"
	}
}

// Event is a typed control event. Filters intercept events in ProcessEvent
// and either cancel them (fully handled locally) or let them propagate
// upstream unchanged.
type Event struct {
	// Pin is the input pin the event was sent through, when pin-targeted.
	Pin *InputPin
	// Speed is the requested playback speed for set-speed events.
	Speed float64
	// StartRange is the play start offset in seconds.
	StartRange float64
	Type       EventType
}

func PlayEvent(startRange float64) Event {
	return Event{StartRange: startRange, Type: EventTypePlay}
}

func StopEvent() Event {
	return Event{Type: EventTypeStop}
}

func SetSpeedEvent(speed float64) Event {
	return Event{Speed: speed, Type: EventTypeSetSpeed}
}
