package drain

// Status is the outcome of a drain cycle.
type Status int

const (
	// Ready means a full batch was drained and written.
	Ready Status = iota
	// Backoff means the channel could not fill a batch and the caller should pause.
	Backoff
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}
