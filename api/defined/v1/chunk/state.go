package chunk

// State is the lifecycle state of a cache controller.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateStopped
}
