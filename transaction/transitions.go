package transaction

import "slices"

// Transition represents a valid state transition.
type Transition struct {
	From State
	To   State
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[Transition]bool{
	{StateIdle, StateRequested}:      true, // Submitted to the store
	{StateRequested, StatePurchased}: true,
	{StateRequested, StateRestored}:  true, // Store reports a prior purchase
	{StateRequested, StateFailed}:    true, // Declined, cancelled or unreachable
	{StateRequested, StateDeferred}:  true, // Awaiting approval
	{StateDeferred, StatePurchased}:  true, // Approved out-of-band
	{StateDeferred, StateFailed}:     true, // Declined out-of-band
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target states from the given state.
func ValidTransitionsFrom(from State) []State {
	targets := make([]State, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}

	slices.Sort(targets)
	return targets
}
