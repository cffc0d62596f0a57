// Package engine implements the workflow core: the story state machine,
// stage handlers, prompt assembly, output parsing, and change detection.
package engine

import (
	"fmt"

	"github.com/zjjiang/opd/internal/model"
)

// validTransitions is the forward-only story status graph with the two
// controlled back-edges out of verifying (iterate, restart).
var validTransitions = map[model.StoryStatus][]model.StoryStatus{
	model.StatusPreparing:  {model.StatusClarifying},
	model.StatusClarifying: {model.StatusPlanning},
	model.StatusPlanning:   {model.StatusDesigning},
	model.StatusDesigning:  {model.StatusCoding},
	model.StatusCoding:     {model.StatusVerifying},
	model.StatusVerifying:  {model.StatusDone, model.StatusCoding, model.StatusDesigning},
}

// InvalidTransitionError reports a transition outside the graph.
type InvalidTransitionError struct {
	From model.StoryStatus
	To   model.StoryStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s → %s", e.From, e.To)
}

// CanTransition reports whether target is in the successor set of current.
func CanTransition(current, target model.StoryStatus) bool {
	for _, next := range validTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition validates a status change. It is a pure check; the caller
// performs the state write.
func Transition(current, target model.StoryStatus) error {
	if !CanTransition(current, target) {
		return &InvalidTransitionError{From: current, To: target}
	}
	return nil
}

// AvailableTransitions returns the successor set of a status.
func AvailableTransitions(current model.StoryStatus) []model.StoryStatus {
	out := make([]model.StoryStatus, len(validTransitions[current]))
	copy(out, validTransitions[current])
	return out
}

// CanRollback reports whether target is a document stage strictly earlier
// than current. Rollback is a recovery operation, not a transition.
func CanRollback(current, target model.StoryStatus) bool {
	ti := model.DocStageIndex(target)
	if ti < 0 {
		return false
	}
	ci := model.DocStageIndex(current)
	if ci < 0 {
		// Past the document stages: any document stage is earlier.
		return current == model.StatusCoding || current == model.StatusVerifying
	}
	return ti < ci
}
