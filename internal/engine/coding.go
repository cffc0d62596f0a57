package engine

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/workspace"
)

// CodingStage runs the AI implementation pass against the project
// workspace and synthesizes the delivery report and test guide.
type CodingStage struct{}

func (s *CodingStage) Status() model.StoryStatus { return model.StatusCoding }

func (s *CodingStage) RequiredCapabilities() []string {
	return []string{capability.CategoryAI, capability.CategorySCM}
}

func (s *CodingStage) OptionalCapabilities() []string {
	return []string{capability.CategoryCI, capability.CategorySandbox}
}

func (s *CodingStage) Preconditions(sc *StageContext) []string {
	var errs []string
	if sc.Bundle.Story.DetailedDesign == "" {
		errs = append(errs, "story detailed_design is required for coding")
	}
	return errs
}

func (s *CodingStage) Execute(ctx context.Context, sc *StageContext) (*StageResult, error) {
	prov, err := aiProvider(sc)
	if err != nil {
		return failure(err.Error()), nil
	}

	branch := ""
	if sc.Bundle.ActiveRound != nil {
		branch = sc.Bundle.ActiveRound.BranchName
	}
	system, user := BuildCodingPrompt(sc.Bundle, branch)

	workDir, err := workspace.Dir(sc.Bundle.Project)
	if err != nil {
		return nil, err
	}

	events, err := prov.Code(ctx, system, user, workDir)
	if err != nil {
		return nil, err
	}
	got, err := collectStream(ctx, sc, events)
	if err != nil {
		return nil, err
	}

	run := &CodingRun{
		Story:             sc.Bundle.Story,
		Round:             sc.Bundle.ActiveRound,
		BranchName:        branch,
		PullRequests:      sc.Bundle.PullRequests,
		AssistantMessages: []string{got.Assistant},
		ToolCalls:         got.ToolCalls,
		Finished:          timeNow().UTC(),
	}

	return &StageResult{
		Success: true,
		Output: map[string]string{
			"coding_report": BuildCodingReport(run),
			"test_guide":    BuildTestGuide(run),
		},
		NextStatus: model.StatusVerifying,
	}, nil
}

func (s *CodingStage) ValidateOutput(result *StageResult) []string {
	var errs []string
	if _, ok := result.Output["coding_report"]; !ok {
		errs = append(errs, "stage output missing 'coding_report'")
	}
	if _, ok := result.Output["test_guide"]; !ok {
		errs = append(errs, "stage output missing 'test_guide'")
	}
	return errs
}
