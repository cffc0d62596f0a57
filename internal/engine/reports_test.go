package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/zjjiang/opd/internal/model"
)

func testRun() *CodingRun {
	return &CodingRun{
		Story: &model.Story{ID: "s1", Title: "add login"},
		Round: &model.Round{RoundNumber: 2, Type: model.RoundIterate},
		BranchName: "opd/story-s1-r2",
		PullRequests: []model.PullRequest{
			{Number: 7, URL: "https://example.test/pr/7", Status: model.PROpen},
		},
		AssistantMessages: []string{"working...", "Added /login handler and tests."},
		ToolCalls:         []string{"write_file: handler.go", "run_tests"},
		Finished:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildCodingReport(t *testing.T) {
	report := BuildCodingReport(testRun())
	for _, want := range []string{
		"# Coding Report: add login",
		"Round: 2 (iterate)",
		"opd/story-s1-r2",
		"[#7](https://example.test/pr/7)",
		"Added /login handler and tests.",
		"write_file: handler.go",
		"2026-03-01T12:00:00Z",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestBuildCodingReport_Deterministic(t *testing.T) {
	if BuildCodingReport(testRun()) != BuildCodingReport(testRun()) {
		t.Error("report is not a pure function of its input")
	}
}

func TestBuildCodingReport_ToolLineBounds(t *testing.T) {
	run := testRun()
	run.ToolCalls = nil
	for i := 0; i < 50; i++ {
		run.ToolCalls = append(run.ToolCalls, strings.Repeat("x", 500))
	}
	report := BuildCodingReport(run)
	lines := strings.Split(report, "\n")
	var toolLines []string
	for _, line := range lines {
		if strings.HasPrefix(line, "- x") {
			toolLines = append(toolLines, line)
		}
	}
	if len(toolLines) != reportToolLines {
		t.Errorf("tool lines = %d, want %d", len(toolLines), reportToolLines)
	}
	for _, line := range toolLines {
		if len(line) > reportToolLineCap+2 { // "- " prefix
			t.Errorf("tool line not truncated: %d chars", len(line))
		}
	}
}

func TestBuildTestGuide(t *testing.T) {
	guide := BuildTestGuide(testRun())
	for _, want := range []string{
		"# Test Guide: add login",
		"git checkout opd/story-s1-r2",
		"Added /login handler and tests.",
		"Verification checklist",
	} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q:\n%s", want, guide)
		}
	}
}

func TestBuildTestGuide_NoBranch(t *testing.T) {
	run := testRun()
	run.BranchName = ""
	guide := BuildTestGuide(run)
	if !strings.Contains(guide, "git pull") {
		t.Errorf("branchless guide missing fallback checkout:\n%s", guide)
	}
}
