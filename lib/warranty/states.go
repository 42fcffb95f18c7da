package warranty

import "github.com/servicemart/ledgerhub/common"

// transitions lists the legal moves. Terminal states have no entry.
var transitions = map[string][]string{
	common.HoldStatusLocked: {common.HoldStatusFrozen, common.HoldStatusReleased, common.HoldStatusForfeited},
	common.HoldStatusFrozen: {common.HoldStatusLocked, common.HoldStatusReleased, common.HoldStatusForfeited},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// sourcesOf returns the states that may move to the given state.
func sourcesOf(to string) []string {
	var from []string
	for _, state := range []string{common.HoldStatusLocked, common.HoldStatusFrozen} {
		if CanTransition(state, to) {
			from = append(from, state)
		}
	}
	return from
}
