package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/workspace"
)

func testProjectStory(t *testing.T) (*model.Project, *model.Story) {
	t.Helper()
	project := &model.Project{
		ID:           "p1",
		Name:         "demo",
		WorkspaceDir: t.TempDir(),
	}
	story := &model.Story{
		ID:        "s1",
		ProjectID: "p1",
		Title:     "add login",
		Status:    model.StatusPlanning,
	}
	return project, story
}

func TestComputeHash(t *testing.T) {
	sum := sha256.Sum256([]byte("content"))
	want := hex.EncodeToString(sum[:])
	if got := ComputeHash("content"); got != want {
		t.Errorf("ComputeHash = %q, want %q", got, want)
	}
}

func TestStageInputContent_InlineFallback(t *testing.T) {
	project, story := testProjectStory(t)
	story.ConfirmedPRD = "# PRD inline"
	content, ok := StageInputContent(project, story, model.StatusPlanning)
	if !ok || content != "# PRD inline" {
		t.Errorf("got (%q, %v)", content, ok)
	}
}

func TestStageInputContent_FileWinsOverInline(t *testing.T) {
	project, story := testProjectStory(t)
	relPath, err := workspace.WriteDoc(project, story, "prd.md", "# PRD from file")
	if err != nil {
		t.Fatalf("WriteDoc: %v", err)
	}
	story.ConfirmedPRD = relPath
	content, ok := StageInputContent(project, story, model.StatusPlanning)
	if !ok || content != "# PRD from file" {
		t.Errorf("got (%q, %v)", content, ok)
	}
}

func TestStageInputContent_NoInput(t *testing.T) {
	project, story := testProjectStory(t)
	if _, ok := StageInputContent(project, story, model.StatusPlanning); ok {
		t.Error("expected no input")
	}
	if _, ok := StageInputContent(project, story, model.StatusPreparing); ok {
		t.Error("preparing has no memoized input")
	}
}

func TestShouldSkipAI(t *testing.T) {
	project, story := testProjectStory(t)
	story.ConfirmedPRD = "# PRD"
	story.TechnicalDesign = "# TD"

	// No stored hash: never skip.
	if ShouldSkipAI(project, story, model.StatusPlanning) {
		t.Error("skip without stored hash")
	}

	// Matching hash: skip.
	story.PlanningInputHash = ComputeHash("# PRD")
	if !ShouldSkipAI(project, story, model.StatusPlanning) {
		t.Error("no skip with matching hash and existing output")
	}

	// Edited input invalidates the memo.
	story.ConfirmedPRD = "# PRD edited"
	if ShouldSkipAI(project, story, model.StatusPlanning) {
		t.Error("skip despite changed input")
	}

	// No output: never skip even with matching hash.
	story.ConfirmedPRD = "# PRD"
	story.TechnicalDesign = ""
	if ShouldSkipAI(project, story, model.StatusPlanning) {
		t.Error("skip without existing output")
	}
}

// ShouldSkipAI implies the stored hash equals the hash of the current
// input content.
func TestShouldSkipAI_HashConsistency(t *testing.T) {
	project, story := testProjectStory(t)
	story.ConfirmedPRD = "# PRD"
	story.TechnicalDesign = "# TD"
	story.PlanningInputHash = ComputeHash("# PRD")

	if ShouldSkipAI(project, story, model.StatusPlanning) {
		content, ok := StageInputContent(project, story, model.StatusPlanning)
		if !ok {
			t.Fatal("skip with no input content")
		}
		if ComputeHash(content) != story.PlanningInputHash {
			t.Error("skip with mismatched hash")
		}
	} else {
		t.Error("expected skip")
	}
}
