package build

// State is a coarse build lifecycle state reported to progress subscribers.
type State string

const (
	StateProvisioning State = "provisioning"
	StateInstalling   State = "installing"
	StateBuilding     State = "building"
	StateTypeChecking State = "type-checking"
	StateReady        State = "ready"
	StateError        State = "error"
)

// Event is one progress notification. Progress is reported out-of-band;
// the terminal result is always the returned Output.
type Event struct {
	State   State
	Message string

	// Log is the human-readable build log accumulated so far.
	Log string
}

// ProgressFunc receives progress events for one build. Coalesced callers
// share the result but only the executing request's callback is invoked.
type ProgressFunc func(Event)
