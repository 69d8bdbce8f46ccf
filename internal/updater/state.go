package updater

// State is the updater's lifecycle position. Transitions:
// Idle -> Checking -> {UpToDate | UpdateAvailable -> Downloading ->
// Downloaded} with Cancelled and Failed reachable from the active states.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateUpToDate
	StateUpdateAvailable
	StateDownloading
	StateDownloaded
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateUpToDate:
		return "up-to-date"
	case StateUpdateAvailable:
		return "update-available"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
