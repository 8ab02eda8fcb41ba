package webhooks

import "fmt"

// State is a step in the life of one webhook delivery.
type State string

const (
	StateReceived     State = "received"
	StateVerified     State = "verified"
	StateParsed       State = "parsed"
	StateDeduplicated State = "deduplicated"
	StateDispatched   State = "dispatched"
	StateApplied      State = "applied"
	StateRejected     State = "rejected"
	StateDuplicate    State = "duplicate"
)

var transitions = map[State][]State{
	StateReceived:     {StateVerified, StateRejected},
	StateVerified:     {StateParsed, StateRejected},
	StateParsed:       {StateDeduplicated, StateDuplicate, StateRejected},
	StateDeduplicated: {StateDispatched, StateRejected},
	StateDispatched:   {StateApplied, StateRejected},
}

// delivery tracks the state of one webhook through the processor.
type delivery struct {
	state State
}

func newDelivery() *delivery {
	return &delivery{state: StateReceived}
}

// advance moves to the next state. An illegal move is a bug in the processor
// and panics.
func (d *delivery) advance(to State) {
	for _, next := range transitions[d.state] {
		if next == to {
			d.state = to
			return
		}
	}
	panic(fmt.Sprintf("webhooks: illegal state transition %s -> %s", d.state, to))
}
