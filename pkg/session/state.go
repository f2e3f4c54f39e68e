package session

// State is a step of the per-connection state machine.
type State int

const (
	StateAwaitingRequest State = iota
	StateValidating
	StateRejectedEarly
	StateDispatching
	StateStreaming
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateValidating:
		return "validating"
	case StateRejectedEarly:
		return "rejected_early"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session outcomes, used as metric labels.
const (
	outcomeSuccess     = "success"
	outcomeRejected    = "rejected"
	outcomeUpstream    = "upstream_error"
	outcomeInternal    = "internal_error"
	outcomeWriteFailed = "write_failed"
	outcomeProbe       = "probe"
	outcomeShutdown    = "shutdown"
	outcomePanic       = "panic"
)
