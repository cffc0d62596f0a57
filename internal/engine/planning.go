package engine

import (
	"context"
	"strings"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// PlanningStage produces the technical design from the confirmed PRD.
type PlanningStage struct{}

func (s *PlanningStage) Status() model.StoryStatus { return model.StatusPlanning }

func (s *PlanningStage) RequiredCapabilities() []string {
	return []string{capability.CategoryAI, capability.CategorySCM}
}

func (s *PlanningStage) OptionalCapabilities() []string { return nil }

func (s *PlanningStage) Preconditions(sc *StageContext) []string {
	var errs []string
	story := sc.Bundle.Story
	if story.ConfirmedPRD == "" && story.PRD == "" {
		errs = append(errs, "story confirmed_prd or prd is required for planning")
	}
	return errs
}

func (s *PlanningStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	prov, err := aiProvider(sc)
	if err != nil {
		return failure(err.Error()), nil
	}

	system, user := BuildPlanningPrompt(sc.Bundle, sc.SourceContext)
	text, err := collectDocument(ctx, sc, prov.Plan, system, user)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return failure("AI returned an empty technical design"), nil
	}

	return &StageResult{
		Success: true,
		Output:  map[string]string{"technical_design": text},
	}, nil
}

func (s *PlanningStage) ValidateOutput(result *StageResult) []string {
	if _, ok := result.Output["technical_design"]; !ok {
		return []string{"stage output missing 'technical_design'"}
	}
	return nil
}
