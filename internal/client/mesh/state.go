// Package mesh keeps one peer connection per co-located identity.
package mesh

type State int

const (
	Absent State = iota
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "absent"
	}
}

type Input int

const (
	InputJoin Input = iota
	InputOffer
	InputAnswer
	InputCandidate
	InputConnected
	InputTerminal
	InputLeave
)

type Action int

const (
	ActionIgnore Action = iota
	// ActionOffer tears down any existing link and offers on a new one.
	ActionOffer
	// ActionAnswer tears down any existing link and answers on a new one.
	ActionAnswer
	ActionApplyAnswer
	ActionAddCandidate
	ActionMarkConnected
	ActionTeardown
)

// View is what the decision needs to know about the current link.
type View struct {
	State   State
	Offerer bool
	// Answered is set once the offerer applied the remote answer; the
	// signaling state is stable from then on.
	Answered bool
	// Polite peers yield when both sides offer at once.
	Polite bool
}

// awaitingAnswer reports a local offer still waiting for its answer.
func (v View) awaitingAnswer() bool {
	return v.State == Negotiating && v.Offerer && !v.Answered
}

// Decide is the link state machine.
func Decide(v View, in Input) Action {
	switch in {
	case InputJoin:
		return ActionOffer
	case InputOffer:
		switch v.State {
		case Absent, Closed, Connected:
			return ActionAnswer
		case Negotiating:
			if v.awaitingAnswer() && !v.Polite {
				return ActionIgnore
			}
			return ActionAnswer
		}
	case InputAnswer:
		if v.awaitingAnswer() {
			return ActionApplyAnswer
		}
	case InputCandidate:
		if v.State == Negotiating || v.State == Connected {
			return ActionAddCandidate
		}
	case InputConnected:
		if v.State == Negotiating {
			return ActionMarkConnected
		}
	case InputTerminal, InputLeave:
		if v.State == Negotiating || v.State == Connected {
			return ActionTeardown
		}
	}
	return ActionIgnore
}
