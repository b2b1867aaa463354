package rotation

// State identifies where the controller is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateMonitoring
	StateRotating
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateMonitoring:
		return "Monitoring"
	case StateRotating:
		return "Rotating"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
