package session

// State is the negotiation state of the Manager.
type State int

const (
	StateIdle State = iota
	StateProposalPending
	StatePairCreated
	StateNegotiating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProposalPending:
		return "proposal_pending"
	case StatePairCreated:
		return "pair_created"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type trigger string

const (
	triggerRestored       trigger = "restored"
	triggerConnectNew     trigger = "connect_new"
	triggerConnectReuse   trigger = "connect_reuse"
	triggerPairingCreated trigger = "pairing_created"
	triggerPairingUpdated trigger = "pairing_updated"
	triggerSettled        trigger = "settled"
	triggerConnectFailed  trigger = "connect_failed"
	triggerSessionDeleted trigger = "session_deleted"
)

// transitions is the full table. A trigger missing for a state is absorbed
// without a state change.
var transitions = map[State]map[trigger]State{
	StateIdle: {
		triggerRestored:       StateActive,
		triggerConnectNew:     StateProposalPending,
		triggerConnectReuse:   StateNegotiating,
		triggerPairingCreated: StatePairCreated,
	},
	StateProposalPending: {
		triggerConnectNew:     StateProposalPending,
		triggerConnectReuse:   StateNegotiating,
		triggerPairingCreated: StatePairCreated,
		triggerSettled:        StateActive,
		triggerConnectFailed:  StateIdle,
	},
	StatePairCreated: {
		triggerPairingCreated: StatePairCreated,
		triggerPairingUpdated: StateNegotiating,
		triggerSettled:        StateActive,
		triggerConnectFailed:  StateIdle,
	},
	StateNegotiating: {
		triggerPairingCreated: StatePairCreated,
		triggerSettled:        StateActive,
		triggerConnectFailed:  StateIdle,
	},
	StateActive: {
		triggerRestored:       StateActive,
		triggerConnectNew:     StateProposalPending,
		triggerConnectReuse:   StateNegotiating,
		triggerPairingCreated: StatePairCreated,
		triggerSettled:        StateActive,
		triggerSessionDeleted: StateIdle,
	},
}

func nextState(from State, t trigger) (State, bool) {
	to, ok := transitions[from][t]
	return to, ok
}
