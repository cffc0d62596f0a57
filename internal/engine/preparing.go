package engine

import (
	"context"
	"strings"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// PreparingStage generates a structured PRD from the story's raw input.
type PreparingStage struct{}

func (s *PreparingStage) Status() model.StoryStatus { return model.StatusPreparing }

func (s *PreparingStage) RequiredCapabilities() []string { return []string{capability.CategoryAI} }

func (s *PreparingStage) OptionalCapabilities() []string { return []string{capability.CategoryDoc} }

func (s *PreparingStage) Preconditions(sc *StageContext) []string {
	var errs []string
	if sc.Bundle.Story.RawInput == "" {
		errs = append(errs, "story raw_input is required for PRD generation")
	}
	return errs
}

func (s *PreparingStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	prov, err := aiProvider(sc)
	if err != nil {
		return failure(err.Error()), nil
	}

	system, user := BuildPreparingPrompt(sc.Bundle, sc.SourceContext)
	events, err := prov.PreparePRD(ctx, system, user)
	if err != nil {
		return nil, err
	}
	got, err := collectStream(ctx, sc, events)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(got.Assistant) == "" {
		return failure("AI returned an empty PRD"), nil
	}

	return &StageResult{
		Success: true,
		Output:  map[string]string{"prd": got.Assistant},
		// Waits for human confirm; no automatic transition.
	}, nil
}

func (s *PreparingStage) ValidateOutput(result *StageResult) []string {
	if _, ok := result.Output["prd"]; !ok {
		return []string{"stage output missing 'prd'"}
	}
	return nil
}
