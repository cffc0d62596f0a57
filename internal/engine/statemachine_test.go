package engine

import (
	"errors"
	"testing"

	"github.com/zjjiang/opd/internal/model"
)

func TestTransition_HappyPath(t *testing.T) {
	steps := []struct {
		from model.StoryStatus
		to   model.StoryStatus
	}{
		{model.StatusPreparing, model.StatusClarifying},
		{model.StatusClarifying, model.StatusPlanning},
		{model.StatusPlanning, model.StatusDesigning},
		{model.StatusDesigning, model.StatusCoding},
		{model.StatusCoding, model.StatusVerifying},
		{model.StatusVerifying, model.StatusDone},
	}
	for _, step := range steps {
		if err := Transition(step.from, step.to); err != nil {
			t.Errorf("Transition(%s, %s) = %v, want nil", step.from, step.to, err)
		}
	}
}

func TestTransition_BackEdges(t *testing.T) {
	if err := Transition(model.StatusVerifying, model.StatusCoding); err != nil {
		t.Errorf("iterate edge rejected: %v", err)
	}
	if err := Transition(model.StatusVerifying, model.StatusDesigning); err != nil {
		t.Errorf("restart edge rejected: %v", err)
	}
}

func TestTransition_Invalid(t *testing.T) {
	cases := []struct {
		from model.StoryStatus
		to   model.StoryStatus
	}{
		{model.StatusPreparing, model.StatusCoding},
		{model.StatusPreparing, model.StatusPlanning},
		{model.StatusClarifying, model.StatusPreparing},
		{model.StatusCoding, model.StatusDone},
		{model.StatusDone, model.StatusPreparing},
		{model.StatusDone, model.StatusVerifying},
	}
	for _, c := range cases {
		err := Transition(c.from, c.to)
		if err == nil {
			t.Errorf("Transition(%s, %s) = nil, want InvalidTransitionError", c.from, c.to)
			continue
		}
		var transitionErr *InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Errorf("Transition(%s, %s) error type = %T", c.from, c.to, err)
		}
	}
}

func TestAvailableTransitions_Done(t *testing.T) {
	if got := AvailableTransitions(model.StatusDone); len(got) != 0 {
		t.Errorf("done should be terminal, got successors %v", got)
	}
}

func TestCanRollback(t *testing.T) {
	cases := []struct {
		current model.StoryStatus
		target  model.StoryStatus
		want    bool
	}{
		{model.StatusPlanning, model.StatusPreparing, true},
		{model.StatusPlanning, model.StatusClarifying, true},
		{model.StatusDesigning, model.StatusPlanning, true},
		{model.StatusCoding, model.StatusDesigning, true},
		{model.StatusVerifying, model.StatusPreparing, true},
		{model.StatusPlanning, model.StatusPlanning, false},
		{model.StatusPreparing, model.StatusPreparing, false},
		{model.StatusClarifying, model.StatusPlanning, false},
		{model.StatusPlanning, model.StatusCoding, false},
		{model.StatusPlanning, model.StatusDone, false},
	}
	for _, c := range cases {
		if got := CanRollback(c.current, c.target); got != c.want {
			t.Errorf("CanRollback(%s, %s) = %v, want %v", c.current, c.target, got, c.want)
		}
	}
}

// Every reachable status is reachable from preparing by valid transitions.
func TestReachability(t *testing.T) {
	reached := map[model.StoryStatus]bool{model.StatusPreparing: true}
	frontier := []model.StoryStatus{model.StatusPreparing}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, succ := range AvailableTransitions(next) {
			if !reached[succ] {
				reached[succ] = true
				frontier = append(frontier, succ)
			}
		}
	}
	all := []model.StoryStatus{
		model.StatusPreparing, model.StatusClarifying, model.StatusPlanning,
		model.StatusDesigning, model.StatusCoding, model.StatusVerifying, model.StatusDone,
	}
	for _, status := range all {
		if !reached[status] {
			t.Errorf("status %s unreachable from preparing", status)
		}
	}
}
