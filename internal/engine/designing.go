package engine

import (
	"context"
	"strings"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// DesigningStage produces the detailed design from the technical design
// and task breakdown.
type DesigningStage struct{}

func (s *DesigningStage) Status() model.StoryStatus { return model.StatusDesigning }

func (s *DesigningStage) RequiredCapabilities() []string {
	return []string{capability.CategoryAI, capability.CategorySCM}
}

func (s *DesigningStage) OptionalCapabilities() []string { return nil }

func (s *DesigningStage) Preconditions(sc *StageContext) []string {
	var errs []string
	if sc.Bundle.Story.TechnicalDesign == "" {
		errs = append(errs, "story technical_design is required for detailed design")
	}
	return errs
}

func (s *DesigningStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	prov, err := aiProvider(sc)
	if err != nil {
		return failure(err.Error()), nil
	}

	system, user := BuildDesigningPrompt(sc.Bundle, sc.SourceContext)
	text, err := collectDocument(ctx, sc, prov.Design, system, user)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return failure("AI returned an empty detailed design"), nil
	}

	return &StageResult{
		Success: true,
		Output:  map[string]string{"detailed_design": text},
	}, nil
}

func (s *DesigningStage) ValidateOutput(result *StageResult) []string {
	if _, ok := result.Output["detailed_design"]; !ok {
		return []string{"stage output missing 'detailed_design'"}
	}
	return nil
}
