package engine

import (
	"context"
	"strings"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// ClarifyingStage analyzes the PRD and produces clarification questions.
type ClarifyingStage struct{}

func (s *ClarifyingStage) Status() model.StoryStatus { return model.StatusClarifying }

func (s *ClarifyingStage) RequiredCapabilities() []string { return []string{capability.CategoryAI} }

func (s *ClarifyingStage) OptionalCapabilities() []string { return []string{capability.CategorySCM} }

func (s *ClarifyingStage) Preconditions(sc *StageContext) []string {
	var errs []string
	if sc.Bundle.Story.PRD == "" {
		errs = append(errs, "story PRD is required for clarification")
	}
	return errs
}

func (s *ClarifyingStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	prov, err := aiProvider(sc)
	if err != nil {
		return failure(err.Error()), nil
	}

	system, user := BuildClarifyingPrompt(sc.Bundle)
	events, err := prov.Clarify(ctx, system, user)
	if err != nil {
		return nil, err
	}
	got, err := collectStream(ctx, sc, events)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(got.Assistant) == "" {
		return failure("AI returned no clarification questions"), nil
	}

	return &StageResult{
		Success: true,
		Output:  map[string]string{"questions": got.Assistant},
		// Waits for human answers.
	}, nil
}

func (s *ClarifyingStage) ValidateOutput(result *StageResult) []string {
	if _, ok := result.Output["questions"]; !ok {
		return []string{"stage output missing 'questions'"}
	}
	return nil
}
