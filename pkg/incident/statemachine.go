package incident

import "fmt"

// allowedTransitions is the complete transition table.
// RESOLVED and CANCELLED have no entry and are therefore terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusOpen:       {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusResolved: true, StatusCancelled: true},
}

// CanTransition reports whether current may move to target
// 遷移可否を判定
func CanTransition(current, target Status) bool {
	return allowedTransitions[current][target]
}

// ValidateTransition returns ErrInvalidTransition unless current may move to target
// 状態遷移をバリデーション
func ValidateTransition(current, target Status) error {
	if !CanTransition(current, target) {
		return ErrInvalidTransition.WithField("status", fmt.Sprintf("%s -> %s", current, target))
	}
	return nil
}

// IsTerminal reports whether no transition leaves s
func IsTerminal(s Status) bool {
	return len(allowedTransitions[s]) == 0
}
