package task

import (
	"fmt"
	"slices"
)

type State int

const (
	Pending State = iota
	Scheduled
	Running
	Completed
	Failed
	Stopped
)

var stateNames = map[State]string{
	Pending:   "Pending",
	Scheduled: "Scheduled",
	Running:   "Running",
	Completed: "Completed",
	Failed:    "Failed",
	Stopped:   "Stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}

// Terminal reports whether a task in s will never run again.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}

var stateTransitionMap = map[State][]State{
	Pending:   {Scheduled, Stopped},
	Scheduled: {Scheduled, Running, Failed, Stopped},
	Running:   {Running, Completed, Failed, Stopped},
	Completed: {Completed},
	Failed:    {Scheduled},
	Stopped:   {Stopped},
}

func ValidStateTransition(src State, dst State) bool {
	return slices.Contains(stateTransitionMap[src], dst)
}
