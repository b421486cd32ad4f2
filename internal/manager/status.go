package manager

// Status is a managed server's lifecycle state.
//
// State machine: stopped -> starting -> running -> stopping -> stopped, with
// crashed entered when a nonzero exit is detected. There is no terminal
// state; the supervisor is long-lived. Degraded and updating are reserved
// and never entered by the core logic.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusCrashed
	StatusDegraded
	StatusUpdating
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusCrashed:
		return "crashed"
	case StatusDegraded:
		return "degraded"
	case StatusUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Health is the probe verdict for a managed server, independent of process
// liveness. Warn is reserved.
type Health int32

const (
	HealthOK Health = iota
	HealthWarn
	HealthFail
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthWarn:
		return "warn"
	case HealthFail:
		return "fail"
	default:
		return "unknown"
	}
}
