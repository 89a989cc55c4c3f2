package circuitbreaker

type State int

const (
	// StateClosed - store calls pass through
	StateClosed State = iota

	// StateOpen - store calls fail fast without touching the store
	StateOpen

	// StateHalfOpen - one probe call is let through to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
