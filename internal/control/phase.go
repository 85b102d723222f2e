package control

// Phase is the request state machine's position.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseParsing
	PhaseValidating
	PhaseApplying
	PhaseResponding
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseParsing:
		return "parsing"
	case PhaseValidating:
		return "validating"
	case PhaseApplying:
		return "applying"
	case PhaseResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// next reports whether the machine may move from p to q. Any phase may jump
// to Responding; otherwise phases advance one step at a time.
func (p Phase) next(q Phase) bool {
	switch {
	case q == PhaseResponding:
		return p != PhaseIdle && p != PhaseResponding
	case q == PhaseIdle:
		return p == PhaseResponding
	default:
		return q == p+1
	}
}
