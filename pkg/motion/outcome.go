package motion

// OutcomeKind classifies how a move ended.
type OutcomeKind int

const (
	// Reached: the desk rests within tolerance of the target.
	Reached OutcomeKind = iota
	// TimedOut: the run or nudge budget expired; the desk is stopped at
	// FinalHeightMM.
	TimedOut
	// Stalled: repeated commands produced no measurable movement. Usually
	// a mechanical limit or a desk that stopped listening, not slowness.
	Stalled
	// TransportError: a command failed to send; a best-effort stop was
	// attempted before returning.
	TransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case Reached:
		return "reached"
	case TimedOut:
		return "timed-out"
	case Stalled:
		return "stalled"
	case TransportError:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a move.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// FinalHeightMM is the last known height. Meaningful for Reached and
	// TimedOut; zero when no reading was ever obtained.
	FinalHeightMM int `json:"finalHeightMM"`
	// Err holds the underlying failure for TransportError.
	Err error `json:"-"`
}

// MarshalJSON-friendly mirror of the error for API payloads.
func (o Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
