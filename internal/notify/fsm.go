// Package notify drives the post-booking channel choice and the
// notification side effects that hang off created appointments.
package notify

// State represents the current state of the dispatch workflow.
type State string

const (
	StateCollecting    State = "collecting"
	StatePendingChoice State = "pending_channel_choice"
	StateDispatched    State = "dispatched"
)

// Channel is the notification channel attached to a create call.
type Channel string

const (
	ChannelWithPayment  Channel = "with_payment"
	ChannelReminderOnly Channel = "reminder_only"
	ChannelNone         Channel = "none"
)

// Channels lists the choices in the order they are offered.
var Channels = []Channel{ChannelWithPayment, ChannelReminderOnly, ChannelNone}

// ChannelLabels are the captions of the confirmation buttons.
var ChannelLabels = map[Channel]string{
	ChannelWithPayment:  "Confirmar y enviar link de pago",
	ChannelReminderOnly: "Confirmar y enviar recordatorio",
	ChannelNone:         "Confirmar sin notificar",
}

// Valid reports whether c is one of Channels.
func (c Channel) Valid() bool {
	_, ok := ChannelLabels[c]
	return ok
}

// FSM manages state transitions for the dispatch workflow.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateCollecting:    {StatePendingChoice},
			StatePendingChoice: {StateDispatched, StateCollecting},
			StateDispatched:    {StateCollecting, StatePendingChoice},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
