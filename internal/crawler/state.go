package crawler

import "fmt"

// ProcessingState tracks an entry through the enrichment stages.
type ProcessingState int

// Processing states. Negative values are terminal failures of the stage that
// produced them.
const (
	StateScoringFailed    ProcessingState = -3
	StateCompletionFailed ProcessingState = -2
	StateSearchFailed     ProcessingState = -1
	StateIngested         ProcessingState = 0
	StateSearched         ProcessingState = 1
	StateCompleted        ProcessingState = 2
	StateScored           ProcessingState = 3
)

var stateNames = map[ProcessingState]string{
	StateScoringFailed:    "scoring_failed",
	StateCompletionFailed: "completion_failed",
	StateSearchFailed:     "search_failed",
	StateIngested:         "ingested",
	StateSearched:         "searched",
	StateCompleted:        "completed",
	StateScored:           "scored",
}

var validTransitions = map[ProcessingState][]ProcessingState{
	StateIngested:  {StateSearched, StateSearchFailed},
	StateSearched:  {StateCompleted, StateCompletionFailed},
	StateCompleted: {StateScored, StateScoringFailed},
}

// String returns the state name.
func (s ProcessingState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Valid reports whether s is a known state.
func (s ProcessingState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Failed reports whether s is a terminal failure state.
func (s ProcessingState) Failed() bool {
	return s < 0 && s.Valid()
}

// ValidateTransition returns an error unless from -> to is a legal forward move.
func ValidateTransition(from, to ProcessingState) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ParseProcessingState resolves a state from its integer code.
func ParseProcessingState(code int) (ProcessingState, error) {
	s := ProcessingState(code)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown processing state %d", code)
	}
	return s, nil
}
