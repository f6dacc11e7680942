package astifilter

import "github.com/asticode/go-astikit"

const (
	// Payload is the *Filter
	EventNameFilterCreated astikit.EventName = "astifilter.filter.created"
	// Payload is nil
	EventNameFilterClosed astikit.EventName = "astifilter.filter.closed"
	// Payload is nil
	EventNameFilterDone astikit.EventName = "astifilter.filter.done"
	// Payload is nil
	EventNameFilterEOS astikit.EventName = "astifilter.filter.eos"
	// Payload is nil
	EventNameFilterRunning astikit.EventName = "astifilter.filter.running"
	// Payload is the error
	EventNameFilterSetupFailure astikit.EventName = "astifilter.filter.setup.failure"
	// Payload is nil
	EventNameFilterStarting astikit.EventName = "astifilter.filter.starting"
	// Payload is nil
	EventNameFilterStopping astikit.EventName = "astifilter.filter.stopping"
	// Payload is the *InputPin
	EventNamePinConnected astikit.EventName = "astifilter.pin.connected"
	// Payload is the *OutputPin
	EventNamePinCreated astikit.EventName = "astifilter.pin.created"
	// Payload is the *InputPin
	EventNamePinDisconnected astikit.EventName = "astifilter.pin.disconnected"
	// Payload is the *OutputPin
	EventNamePinRemoved astikit.EventName = "astifilter.pin.removed"
	// Payload is nil
	EventNameSessionClosed astikit.EventName = "astifilter.session.closed"
	// Payload is nil
	EventNameSessionDone astikit.EventName = "astifilter.session.done"
	// Payload is nil
	EventNameSessionRunning astikit.EventName = "astifilter.session.running"
	// Payload is nil
	EventNameSessionStarting astikit.EventName = "astifilter.session.starting"
	// Payload is nil
	EventNameSessionStopping astikit.EventName = "astifilter.session.stopping"
)
