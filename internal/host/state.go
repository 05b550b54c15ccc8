package host

// State is the readiness state of a host.
type State int

const (
	// StateIdle is the state before Compile.
	StateIdle State = iota
	// StateLoading is held while the diagnostic mount step runs.
	StateLoading
	// StateWorking is held while the template compiles and imports are
	// requested.
	StateWorking
	// StateWaiting means an import is unresolved or a required input has
	// no value.
	StateWaiting
	// StateReady means Run may be called.
	StateReady
)

var stateNames = [...]string{"idle", "loading", "working", "waiting", "ready"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
