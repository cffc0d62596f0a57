package engine

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
)

// VerifyingStage is human-driven: the real work happens through confirm /
// iterate / restart. Executing it only signals readiness.
type VerifyingStage struct{}

func (s *VerifyingStage) Status() model.StoryStatus { return model.StatusVerifying }

func (s *VerifyingStage) RequiredCapabilities() []string {
	return []string{capability.CategorySCM}
}

func (s *VerifyingStage) OptionalCapabilities() []string {
	return []string{capability.CategoryCI, capability.CategorySandbox}
}

func (s *VerifyingStage) Preconditions(sc *StageContext) []string {
	return nil
}

func (s *VerifyingStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	return &StageResult{
		Success: true,
		Output:  map[string]string{},
		// The user decides the next transition.
	}, nil
}

func (s *VerifyingStage) ValidateOutput(result *StageResult) []string {
	return nil
}
